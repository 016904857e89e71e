package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Prompt template files
const (
	PromptDM    = "dm_system.j2"
	PromptRules = "rules_system.j2"
)

// PromptDir overrides the directory templates are read from
var PromptDir = ""

// Used when the template files cannot be found
var inlinePrompts = map[string]string{
	PromptDM: `You are the Dungeon Master for a game of D&D 5e. Narrate the scene, call updatePlayer or updateMonster when the game state changes, roll dice with rollDie or rollDice instead of inventing results, and call logCampaign once with a summary of the turn.

Current game state:
{{ game_state }}

START CONTEXT
{{ rules_context }}
END OF CONTEXT`,
	PromptRules: `You are a D&D 5e rules assistant. Answer the question from the context below and say so when it does not cover the question.

START CONTEXT
{{ rules_context }}
END OF CONTEXT

Current game state:
{{ game_state }}`,
}

// loadPrompt reads a template file from the prompts directory
func loadPrompt(filename string) (string, error) {
	// Try multiple possible paths
	possiblePaths := []string{
		filepath.Join("prompts", filename),
		filepath.Join("..", "prompts", filename),
		filepath.Join("..", "..", "prompts", filename),
	}
	if PromptDir != "" {
		possiblePaths = append([]string{filepath.Join(PromptDir, filename)}, possiblePaths...)
	}

	for _, path := range possiblePaths {
		content, err := os.ReadFile(path)
		if err == nil {
			return string(content), nil
		}
	}

	return "", fmt.Errorf("could not find prompt file: %s", filename)
}

// RenderPrompt fills the {{ name }} placeholders of a template
func RenderPrompt(filename string, vars map[string]string) string {
	content, err := loadPrompt(filename)
	if err != nil {
		content = inlinePrompts[filename]
	}

	for key, value := range vars {
		content = strings.ReplaceAll(content, "{{ "+key+" }}", value)
	}
	return content
}
