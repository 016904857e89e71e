package game

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/qninhdt/wyvern-ai/internal/db"
	"github.com/qninhdt/wyvern-ai/internal/dice"
	"github.com/qninhdt/wyvern-ai/internal/rules"
	"github.com/qninhdt/wyvern-ai/internal/tools"
)

// Tool names offered to the model
const (
	ToolUpdatePlayer  = "updatePlayer"
	ToolUpdateMonster = "updateMonster"
	ToolLogCampaign   = "logCampaign"
	ToolRollDie       = "rollDie"
	ToolRollDice      = "rollDice"
	ToolLookupRules   = "lookupRules"
)

type updatePlayerArgs struct {
	ID   string       `json:"id" jsonschema:"required,description=Player id" validate:"required"`
	Data PlayerRecord `json:"data" jsonschema:"required,description=Player sheet fields to set"`
}

type updateMonsterArgs struct {
	ID   string        `json:"id" jsonschema:"required,description=Monster id" validate:"required"`
	Data MonsterRecord `json:"data" jsonschema:"required,description=Monster fields to set"`
}

type logCampaignArgs struct {
	Narration string   `json:"narration" jsonschema:"required,description=Summary of what happened this turn" validate:"required"`
	Updates   []string `json:"updates,omitempty" jsonschema:"description=Game state changes made this turn"`
}

type rollDieArgs struct {
	Sides        int  `json:"sides" jsonschema:"required,description=Number of sides on the die (e.g. 6 for d6 or 20 for d20)" validate:"required,min=1,max=1000"`
	Advantage    bool `json:"advantage,omitempty" jsonschema:"description=Roll twice and keep the higher roll"`
	Disadvantage bool `json:"disadvantage,omitempty" jsonschema:"description=Roll twice and keep the lower roll"`
	Offset       int  `json:"offset,omitempty" jsonschema:"description=Number added to the kept roll"`
}

type rollDiceArgs struct {
	Notation string `json:"notation" jsonschema:"required,description=Dice notation such as 2d6+3 or 1d20+1d4-1" validate:"required,max=64"`
}

type lookupRulesArgs struct {
	Query string `json:"query" jsonschema:"required,description=Rules question or keywords" validate:"required"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of documents" validate:"omitempty,min=1,max=20"`
}

// turnState collects what the tools did during one turn
type turnState struct {
	campaignID string
	store      db.Store
	roller     *dice.Roller
	retriever  rules.Retriever

	mu        sync.Mutex
	applied   []string
	narration string
	reported  []string
}

func (t *turnState) recordUpdate(kind, id string, doc db.Document) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t.mu.Lock()
	t.applied = append(t.applied, fmt.Sprintf("%s %s: %s", kind, id, strings.Join(keys, ", ")))
	t.mu.Unlock()
}

// updates lists applied mutations followed by any the model reported itself
func (t *turnState) updates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := append([]string{}, t.applied...)
	seen := make(map[string]bool, len(out))
	for _, u := range out {
		seen[u] = true
	}
	for _, u := range t.reported {
		if !seen[u] {
			out = append(out, u)
			seen[u] = true
		}
	}
	return out
}

func (t *turnState) loggedNarration() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.narration, t.narration != ""
}

func (t *turnState) upsert(ctx context.Context, collection, kind, id string, record any) (tools.Result, error) {
	doc, err := fields(record)
	if err != nil {
		return tools.Result{}, err
	}
	if err := t.store.Upsert(ctx, collection, t.campaignID, id, doc); err != nil {
		return tools.Result{}, fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	t.recordUpdate(kind, id, doc)

	slog.Debug("game state updated",
		"campaign", t.campaignID,
		"kind", kind,
		"id", id)
	return tools.Result{Text: fmt.Sprintf("%s %s updated", kind, id), Data: doc}, nil
}

// newToolset registers the tools of one turn
func newToolset(t *turnState) *tools.Registry {
	reg := tools.NewRegistry()

	reg.Register(tools.MustTyped(ToolUpdatePlayer,
		"Update or create a player's information in the campaign and playersheet",
		func(ctx context.Context, args updatePlayerArgs) (tools.Result, error) {
			return t.upsert(ctx, db.CollectionPlayers, "player", args.ID, args.Data)
		}))

	reg.Register(tools.MustTyped(ToolUpdateMonster,
		"Update or create a monster's information in the campaign",
		func(ctx context.Context, args updateMonsterArgs) (tools.Result, error) {
			return t.upsert(ctx, db.CollectionMonsters, "monster", args.ID, args.Data)
		}))

	reg.Register(tools.MustTyped(ToolLogCampaign,
		"Update the log of our campaign, with both narration and any updates to the game state",
		func(ctx context.Context, args logCampaignArgs) (tools.Result, error) {
			t.mu.Lock()
			t.narration = args.Narration
			t.reported = append(t.reported, args.Updates...)
			t.mu.Unlock()
			return tools.Result{Text: "campaign log recorded"}, nil
		}))

	reg.Register(tools.MustTyped(ToolRollDie,
		"Roll a die with specified sides, advantage/disadvantage, and offset",
		func(ctx context.Context, args rollDieArgs) (tools.Result, error) {
			res, err := t.roller.Roll(dice.Request{
				Sides:        args.Sides,
				Advantage:    args.Advantage,
				Disadvantage: args.Disadvantage,
				Offset:       args.Offset,
			})
			if err != nil {
				return tools.Result{}, err
			}
			return tools.Result{Visible: true, Text: res.String(), Data: res}, nil
		}))

	reg.Register(tools.MustTyped(ToolRollDice,
		"Roll dice written in standard notation, such as 2d6+3 for damage",
		func(ctx context.Context, args rollDiceArgs) (tools.Result, error) {
			eval, err := t.roller.Evaluate(args.Notation)
			if err != nil {
				return tools.Result{}, err
			}
			return tools.Result{Visible: true, Text: eval.String(), Data: eval}, nil
		}))

	reg.Register(tools.MustTyped(ToolLookupRules,
		"Search the D&D 5e rules and lore for context",
		func(ctx context.Context, args lookupRulesArgs) (tools.Result, error) {
			if t.retriever == nil {
				return tools.Result{Text: rules.NoContext}, nil
			}
			docs, err := t.retriever.Search(ctx, args.Query, args.Limit)
			if err != nil {
				return tools.Result{}, fmt.Errorf("rules lookup failed: %w", err)
			}
			return tools.Result{Text: rules.FormatContext(docs), Data: docs}, nil
		}))

	return reg
}
