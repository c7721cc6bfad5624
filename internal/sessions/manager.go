package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// CloseCallback runs just before a session is archived; Messages are
// still accessible at call time.
type CloseCallback func(*Session)

// Manager routes contacts to sessions and owns their lifecycle: creation,
// lookup, close/archive, and recall across a close boundary.
type Manager struct {
	mu        sync.Mutex
	dir       string
	agentName string
	indexPath string
	index     map[string]models.IndexEntry
	active    map[string]*Session
	onClose   []CloseCallback
	log       *observability.Logger
}

// NewManager opens (or creates) the session directory and its index.
func NewManager(dir, agentName string, log *observability.Logger) *Manager {
	_ = os.MkdirAll(dir, 0o755)
	m := &Manager{
		dir:       dir,
		agentName: agentName,
		indexPath: filepath.Join(dir, "sessions.json"),
		index:     map[string]models.IndexEntry{},
		active:    map[string]*Session{},
		log:       log,
	}
	m.loadIndex()
	return m
}

func (m *Manager) loadIndex() {
	data, err := os.ReadFile(m.indexPath)
	if err != nil {
		return
	}
	var idx map[string]models.IndexEntry
	if err := json.Unmarshal(data, &idx); err != nil {
		return
	}
	m.index = idx
}

func (m *Manager) saveIndex() {
	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return
	}
	_ = atomicWriteFile(m.indexPath, data)
}

// OnClose registers a callback fired on every session close, in
// registration order.
func (m *Manager) OnClose(cb CloseCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = append(m.onClose, cb)
}

// GetOrCreate returns the cached session for a contact, loading it from
// disk or creating a fresh one if none is cached yet.
func (m *Manager) GetOrCreate(contact, model string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.active[contact]; ok {
		return s
	}

	if entry, ok := m.index[contact]; ok && entry.SessionID != "" {
		s := newSession(entry.SessionID, m.dir, model, contact, m.log)
		if s.Load() {
			m.active[contact] = s
			return s
		}
	}

	id := uuid.NewString()
	s := newSession(id, m.dir, model, contact, m.log)
	s.appendEvent(models.AuditEvent{Type: models.EventSession, ID: id, Model: model, Contact: contact})
	m.index[contact] = models.IndexEntry{SessionID: id, CreatedAt: time.Now()}
	m.saveIndex()
	m.active[contact] = s
	if m.log != nil {
		m.log.Info("created session", "session", id, "contact", contact)
	}
	return s
}

// CreateSubagentSession creates a one-off, unindexed session for a
// sub-agent run (never looked up by contact, never archived by contact
// close).
func (m *Manager) CreateSubagentSession(parentID, model string) *Session {
	id := "sub-" + uuid.NewString()
	s := newSession(id, m.dir, model, "", m.log)
	s.appendEvent(models.AuditEvent{Type: models.EventSession, ID: id, Model: model, ParentSession: parentID})
	return s
}

// ActiveSummary describes one in-memory session for status/diagnostic
// surfaces.
type ActiveSummary struct {
	Contact   string
	SessionID string
	Model     string
	Messages  int
}

// ActiveSessions returns a snapshot of every session currently held in
// memory, for status/diagnostic surfaces.
func (m *Manager) ActiveSessions() []ActiveSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveSummary, 0, len(m.active))
	for contact, s := range m.active {
		out = append(out, ActiveSummary{
			Contact:   contact,
			SessionID: s.ID,
			Model:     s.Model,
			Messages:  len(s.Messages),
		})
	}
	return out
}

// CloseSession fires the registered close callbacks, then archives every
// file belonging to the contact's session under dir/.archive/ and removes
// the contact from the index. The next message for that contact starts a
// fresh session.
func (m *Manager) CloseSession(contact string) bool {
	m.mu.Lock()
	session := m.active[contact]
	callbacks := append([]CloseCallback(nil), m.onClose...)
	m.mu.Unlock()

	if session != nil {
		for _, cb := range callbacks {
			safeCall(cb, session, m.log)
		}
	}

	m.mu.Lock()
	delete(m.active, contact)
	entry, ok := m.index[contact]
	m.mu.Unlock()
	if !ok {
		return false
	}

	archiveDir := filepath.Join(m.dir, ".archive")
	_ = os.MkdirAll(archiveDir, 0o755)
	matches, _ := filepath.Glob(filepath.Join(m.dir, entry.SessionID+"*"))
	for _, f := range matches {
		_ = os.Rename(f, filepath.Join(archiveDir, filepath.Base(f)))
	}

	m.mu.Lock()
	delete(m.index, contact)
	m.saveIndex()
	m.mu.Unlock()
	return true
}

func safeCall(cb CloseCallback, s *Session, log *observability.Logger) {
	defer func() {
		if r := recover(); r != nil && log != nil {
			log.Error("on_close callback failed", "panic", r)
		}
	}()
	cb(s)
}

// CloseSessionByID closes a session found by linear scan of the index —
// used when an operator has a session id but not the owning contact.
func (m *Manager) CloseSessionByID(sessionID string) bool {
	m.mu.Lock()
	var contact string
	for c, entry := range m.index {
		if entry.SessionID == sessionID {
			contact = c
			break
		}
	}
	m.mu.Unlock()
	if contact == "" {
		return false
	}
	return m.CloseSession(contact)
}

// BuildRecall formats the most recently archived session for a contact
// into a short conversational excerpt, or "" if no archive exists.
func (m *Manager) BuildRecall(contact string, count int) string {
	archiveDir := filepath.Join(m.dir, ".archive")
	entries, err := filepath.Glob(filepath.Join(archiveDir, "*.state.json"))
	if err != nil || len(entries) == 0 {
		return ""
	}

	var bestPath string
	var bestMtime time.Time
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var snap models.Session
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		fileContact := snap.Contact
		if fileContact == "" {
			fileContact = contactFromJSONL(archiveDir, snap.ID)
		}
		if fileContact != contact {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(bestMtime) {
			bestMtime = info.ModTime()
			bestPath = path
		}
	}

	if bestPath == "" {
		return ""
	}
	data, err := os.ReadFile(bestPath)
	if err != nil {
		return ""
	}
	var snap models.Session
	if err := json.Unmarshal(data, &snap); err != nil || len(snap.Messages) == 0 {
		return ""
	}

	var conversation []models.Message
	for _, msg := range snap.Messages {
		if msg.Role == models.RoleUser || msg.Role == models.RoleAssistant {
			conversation = append(conversation, msg)
		}
	}
	if len(conversation) == 0 {
		return ""
	}
	if len(conversation) > count {
		conversation = conversation[len(conversation)-count:]
	}

	var lines []string
	for _, msg := range conversation {
		switch msg.Role {
		case models.RoleUser:
			content := msg.TextContent()
			if strings.HasPrefix(content, "[") {
				if idx := strings.Index(content[:min(60, len(content))], "]\n"); idx >= 0 {
					content = content[idx+2:]
				}
			}
			lines = append(lines, "**"+contact+":** "+content)
		case models.RoleAssistant:
			if msg.Text != "" {
				lines = append(lines, "**"+m.agentName+":** "+msg.Text)
			}
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Session recall (last conversation):\n\n" + strings.Join(lines, "\n\n")
}

func contactFromJSONL(archiveDir, sessionID string) string {
	matches, _ := filepath.Glob(filepath.Join(archiveDir, sessionID+".*.jsonl"))
	if len(matches) == 0 {
		return ""
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return ""
	}
	firstLine := data
	if idx := strings.IndexByte(string(data), '\n'); idx >= 0 {
		firstLine = data[:idx]
	}
	var ev models.AuditEvent
	if err := json.Unmarshal(firstLine, &ev); err != nil {
		return ""
	}
	return ev.Contact
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
