package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestUser_PublicProfileOmitsPassword(t *testing.T) {
	now := time.Now()
	u := &User{ID: "1", Email: "a@example.com", PasswordHash: "$2a$10$secret", DisplayName: "a", IsActive: true, CreatedAt: now, UpdatedAt: now}

	data, err := json.Marshal(u.PublicProfile())
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("public profile leaks password hash: %s", data)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}

func TestDefaultDisplayName(t *testing.T) {
	if got := DefaultDisplayName("alice@example.com"); got != "alice" {
		t.Errorf("DefaultDisplayName = %q", got)
	}
}

func TestProfilePatch_IsEmpty(t *testing.T) {
	if !(ProfilePatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}
	name := "x"
	if (ProfilePatch{DisplayName: &name}).IsEmpty() {
		t.Error("patch with displayName should not be empty")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(ErrTaskNotFound) != KindNotFound {
		t.Error("ErrTaskNotFound should be not_found")
	}
	if KindOf(ErrEmailTaken) != KindConflict {
		t.Error("ErrEmailTaken should be conflict")
	}
	if KindOf(NewInternalError("boom", nil)) != KindInternal {
		t.Error("internal error kind mismatch")
	}
	if KindOf(json.Unmarshal([]byte("{"), &struct{}{})) != KindInternal {
		t.Error("plain errors should be internal")
	}
}
