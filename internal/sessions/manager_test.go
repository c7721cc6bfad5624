package sessions

import (
	"strings"
	"testing"
)

func TestGetOrCreateReturnsSameSessionForContact(t *testing.T) {
	m := NewManager(t.TempDir(), "test", nil)
	a := m.GetOrCreate("alice", "claude-sonnet")
	b := m.GetOrCreate("alice", "claude-sonnet")
	if a != b {
		t.Fatal("expected GetOrCreate to return the cached session for the same contact")
	}
}

func TestCreateSubagentSessionIsPrefixedAndUnindexed(t *testing.T) {
	m := NewManager(t.TempDir(), "test", nil)
	parent := m.GetOrCreate("alice", "claude-sonnet")

	sub := m.CreateSubagentSession(parent.ID, "claude-haiku")
	if !strings.HasPrefix(sub.ID, "sub-") {
		t.Fatalf("expected sub-agent session id to be prefixed with %q, got %q", "sub-", sub.ID)
	}

	for _, s := range m.ActiveSessions() {
		if s.SessionID == sub.ID {
			t.Fatalf("expected sub-agent session %q to stay out of the contact-indexed snapshot", sub.ID)
		}
	}
}

func TestActiveSessionsSnapshot(t *testing.T) {
	m := NewManager(t.TempDir(), "test", nil)
	m.GetOrCreate("alice", "claude-sonnet")
	m.GetOrCreate("bob", "gpt-4o")

	active := m.ActiveSessions()
	if len(active) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(active))
	}
	contacts := map[string]bool{}
	for _, s := range active {
		contacts[s.Contact] = true
	}
	if !contacts["alice"] || !contacts["bob"] {
		t.Fatalf("expected alice and bob in snapshot, got %+v", active)
	}
}
