package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/qninhdt/wyvern-ai/internal/agents"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect local models",
}

var modelsCheckCmd = &cobra.Command{
	Use:   "check [model]",
	Short: "Check that a model is installed on the Ollama server",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runModelsCheck,
}

func init() {
	modelsCmd.AddCommand(modelsCheckCmd)
}

func runModelsCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := agents.NewOllamaClient(agents.OllamaOptions{BaseURL: cfg.Ollama.URL()})
	if err != nil {
		return err
	}

	models, err := client.Models(cmd.Context())
	if err != nil {
		return fmt.Errorf("%s: %w", agents.UserMessage(err), err)
	}

	model := cfg.Ollama.Model
	if len(args) > 0 {
		model = args[0]
	}

	fmt.Printf("Ollama at %s has %d models\n", cfg.Ollama.URL(), len(models))
	for _, m := range models {
		fmt.Println("  " + m)
	}
	if !slices.Contains(models, model) {
		return fmt.Errorf("model %s is not installed, run `ollama pull %s`", model, model)
	}
	fmt.Printf("Model %s is ready\n", model)
	return nil
}
