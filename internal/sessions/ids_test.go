package sessions

import (
	"testing"

	"github.com/relaychat/relay/pkg/models"
)

func TestNewSessionID_Unique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty session ids")
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
	if err := models.ValidateSessionID(a); err != nil {
		t.Fatalf("generated id failed validation: %v", err)
	}
}
