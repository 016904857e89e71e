package validation

import "testing"

// TestSlugify tests campaign id derivation
func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Lost Mine", "lost-mine"},
		{"  Curse of Strahd  ", "curse-of-strahd"},
		{"Rime of the Frostmaiden!", "rime-of-the-frostmaiden"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.name); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

// TestValidateCampaignID tests campaign id format checks
func TestValidateCampaignID(t *testing.T) {
	if err := ValidateCampaignID("lost-mine"); err != nil {
		t.Errorf("Expected valid id, got %v", err)
	}
	for _, id := range []string{"", "lost mine", "../etc", string(make([]byte, 65))} {
		if err := ValidateCampaignID(id); err == nil {
			t.Errorf("Expected %q to be rejected", id)
		}
	}
}

// TestValidateCampaignName tests name checks
func TestValidateCampaignName(t *testing.T) {
	if err := ValidateCampaignName("Lost Mine"); err != nil {
		t.Errorf("Expected valid name, got %v", err)
	}
	for _, name := range []string{"", "   ", "!!!"} {
		if err := ValidateCampaignName(name); err == nil {
			t.Errorf("Expected %q to be rejected", name)
		}
	}
}

// TestValidateRole tests message roles
func TestValidateRole(t *testing.T) {
	if err := ValidateRole("assistant"); err != nil {
		t.Errorf("Expected valid role, got %v", err)
	}
	for _, role := range []string{"tool", "system", ""} {
		if err := ValidateRole(role); err == nil {
			t.Errorf("Expected %q role to be rejected", role)
		}
	}
	if err := ValidateMessageID("msg-1"); err != nil {
		t.Errorf("Expected valid message id, got %v", err)
	}
	if err := ValidateMessageID("a b"); err == nil {
		t.Error("Expected message id with a space to be rejected")
	}
}
