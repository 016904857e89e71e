package game

import "strings"

// Intent selects the system prompt of a turn
type Intent int

const (
	IntentNarration Intent = iota
	IntentRules
)

func (i Intent) String() string {
	if i == IntentRules {
		return "rules"
	}
	return "narration"
}

// rulesKeywords mark a message as a rules question rather than play
var rulesKeywords = []string{
	"what are the rules",
	"rules for",
	"rule on",
	"how does",
	"how do i",
	"how many",
	"what happens when",
	"explain",
	"what is a",
	"what is the",
	"can i use",
	"am i allowed",
	"stat block",
	"spell description",
	"rules lookup",
}

// ClassifyIntent routes a message by case-insensitive keyword match
func ClassifyIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, kw := range rulesKeywords {
		if strings.Contains(lower, kw) {
			return IntentRules
		}
	}
	return IntentNarration
}
