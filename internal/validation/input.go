package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateCampaignID validates campaign ID format
func ValidateCampaignID(id string) error {
	if len(id) == 0 || len(id) > 64 {
		return fmt.Errorf("campaign ID must be 1-64 characters")
	}

	// Allow alphanumeric, hyphens, underscores
	if !idPattern.MatchString(id) {
		return fmt.Errorf("campaign ID can only contain alphanumeric characters, hyphens, and underscores")
	}

	return nil
}

// ValidateMessageID validates a chat message ID
func ValidateMessageID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 128 {
		return fmt.Errorf("message ID must be at most 128 characters")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("message ID can only contain alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// ValidateRole validates the role of a client message. The system prompt is
// owned by the server, so clients may only send user and assistant turns.
func ValidateRole(role string) error {
	switch role {
	case "user", "assistant":
		return nil
	}
	return fmt.Errorf("role must be 'user' or 'assistant'")
}

// ValidateCampaignName validates a campaign display name
func ValidateCampaignName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("campaign name must be at most 100 characters")
	}
	if Slugify(name) == "" {
		return fmt.Errorf("campaign name must contain letters or digits")
	}
	return nil
}

// Slugify turns a campaign name into its id: "Lost Mine" becomes "lost-mine"
func Slugify(name string) string {
	return slug.Make(strings.TrimSpace(name))
}
