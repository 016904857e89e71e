package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qninhdt/wyvern-ai/internal/app"
	"github.com/qninhdt/wyvern-ai/internal/rules"
)

var searchLimit int

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage the rules collection",
}

var rulesLoadCmd = &cobra.Command{
	Use:   "load [dir]",
	Short: "Load JSON rules documents into the vector store",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesLoad,
}

var rulesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the rules collection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRulesSearch,
}

func init() {
	rulesSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", rules.DefaultLimit, "Maximum number of documents")

	rulesCmd.AddCommand(rulesLoadCmd)
	rulesCmd.AddCommand(rulesSearchCmd)
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func runRulesLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	dir := a.Config.Weaviate.DataDir
	if len(args) > 0 {
		dir = args[0]
	}

	docs, err := rules.LoadDir(dir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents found in %s", dir)
	}

	if err := a.Weaviate.Live(ctx); err != nil {
		return fmt.Errorf("weaviate is not reachable: %w", err)
	}
	if err := a.Weaviate.EnsureCollection(ctx); err != nil {
		return err
	}

	n, err := a.Weaviate.Insert(ctx, docs)
	if err != nil {
		return err
	}
	fmt.Printf("Inserted %d of %d documents into %s\n", n, len(docs), a.Weaviate.Class())
	return nil
}

func runRulesSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	docs, err := a.Rules.Search(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println(rules.NoContext)
		return nil
	}
	for i, d := range docs {
		fmt.Printf("%d. [%s/%s]\n%s\n\n", i+1, d.Category, d.Source, d.Text)
	}
	return nil
}
