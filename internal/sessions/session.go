// Package sessions implements dual-store session persistence — an
// append-only, date-sharded JSONL audit trail plus an atomically-written
// JSON snapshot — and the routing/compaction logic built on top of it,
// grounded on original_source/session.py.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/pkg/models"
)

// AuditTruncationLimit caps tool-result content embedded in the audit
// trail. Compaction uses its own, larger limit (compactionTruncationLimit).
const AuditTruncationLimit = 500

// Session owns one conversation's in-memory state and the files that
// back it on disk.
type Session struct {
	mu sync.Mutex

	models.Session
	dir string
	log *observability.Logger
}

func newSession(id, dir, model, contact string, log *observability.Logger) *Session {
	_ = os.MkdirAll(dir, 0o755)
	return &Session{
		Session: models.Session{
			ID:        id,
			Model:     model,
			Contact:   contact,
			CreatedAt: time.Now(),
		},
		dir: dir,
		log: log,
	}
}

func (s *Session) statePath() string       { return filepath.Join(s.dir, s.ID+".state.json") }
func (s *Session) legacyJSONLPath() string { return filepath.Join(s.dir, s.ID+".jsonl") }
func (s *Session) datedJSONLPath() string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.%s.jsonl", s.ID, time.Now().Format("2006-01-02")))
}

// atomicWriteFile writes data to path via a .tmp file + fsync + rename, so
// a crash mid-write never leaves a half-written snapshot.
func atomicWriteFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// migrateLegacyJSONL moves an undated legacy audit file into dated form
// (the date of its first event's timestamp, or today if that is unreadable),
// merging into an existing dated file and removing the legacy one
// if a collision occurs (per the Open Question: no backup is kept — the
// merge is the backup).
func (s *Session) migrateLegacyJSONL() {
	legacy := s.legacyJSONLPath()
	data, err := os.ReadFile(legacy)
	if err != nil {
		return
	}
	lines := strings.SplitN(string(data), "\n", 2)
	firstLine := strings.TrimSpace(lines[0])
	if firstLine == "" {
		return
	}
	var first models.AuditEvent
	ts := time.Now()
	if err := json.Unmarshal([]byte(firstLine), &first); err == nil && first.Timestamp > 0 {
		ts = time.Unix(int64(first.Timestamp), 0)
	}
	target := filepath.Join(s.dir, fmt.Sprintf("%s.%s.jsonl", s.ID, ts.Format("2006-01-02")))

	if _, err := os.Stat(target); os.IsNotExist(err) {
		if err := os.Rename(legacy, target); err == nil && s.log != nil {
			s.log.Info("migrated legacy audit log", "session", s.ID, "target", filepath.Base(target))
		}
		return
	}

	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return
	}
	_ = os.Remove(legacy)
	if s.log != nil {
		s.log.Info("merged legacy audit log", "session", s.ID, "target", filepath.Base(target))
	}
}

// Load loads the session from its state snapshot, rebuilding from the
// audit trail if the snapshot is missing or corrupt. Returns true if any
// prior state was recovered.
func (s *Session) Load() bool {
	s.migrateLegacyJSONL()

	data, err := os.ReadFile(s.statePath())
	if err != nil {
		return s.rebuildFromJSONL()
	}

	var snap models.Session
	if err := json.Unmarshal(data, &snap); err != nil {
		if s.log != nil {
			s.log.Warn("corrupt state file, rebuilding", "session", s.ID, "error", err)
		}
		return s.rebuildFromJSONL()
	}

	s.mu.Lock()
	id, dir := s.ID, s.dir
	s.Session = snap
	s.ID, s.dir = id, dir
	s.mu.Unlock()
	if s.log != nil {
		s.log.Info("resumed session", "session", s.ID, "messages", len(s.Messages))
	}
	return true
}

// rebuildFromJSONL replays every dated (and any leftover legacy) audit
// chunk, in filename order, to reconstruct message history and token
// totals when the snapshot can't be trusted.
func (s *Session) rebuildFromJSONL() bool {
	legacy := s.legacyJSONLPath()
	var chunks []string
	if _, err := os.Stat(legacy); err == nil {
		chunks = append(chunks, legacy)
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, s.ID+".????-??-??.jsonl"))
	sort.Strings(matches)
	chunks = append(chunks, matches...)
	if len(chunks) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Messages = nil
	s.TotalInputTokens = 0
	s.TotalOutputTokens = 0
	s.CompactionCount = 0

	for _, chunk := range chunks {
		data, err := os.ReadFile(chunk)
		if err != nil {
			if s.log != nil {
				s.log.Error("failed to rebuild session", "session", s.ID, "error", err)
			}
			return false
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var ev models.AuditEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case models.EventMessage:
				msg := models.Message{
					Role: ev.Role, Content: ev.Content, Sender: ev.From, Source: ev.Source,
					Text: ev.Text, ToolCalls: ev.ToolCalls, Thinking: ev.Thinking, Reasoning: ev.Reasoning,
				}
				if ev.Usage != nil {
					msg.Usage = *ev.Usage
				}
				s.Messages = append(s.Messages, msg)
				if ev.Role == models.RoleAssistant {
					s.TotalInputTokens += msg.Usage.InputTokens
					s.TotalOutputTokens += msg.Usage.OutputTokens
				}
			case models.EventCompaction:
				s.CompactionCount++
				if ev.Summary != "" {
					s.Messages = []models.Message{{
						Role:    models.RoleUser,
						Content: "[Previous conversation summary]\n" + ev.Summary,
					}}
				}
			}
		}
	}
	if s.log != nil {
		s.log.Info("rebuilt session from audit trail", "session", s.ID, "chunks", len(chunks), "messages", len(s.Messages))
	}
	return true
}

func (s *Session) saveState() {
	s.mu.Lock()
	s.UpdatedAt = time.Now()
	data, err := json.Marshal(s.Session)
	s.mu.Unlock()
	if err != nil {
		return
	}
	if err := atomicWriteFile(s.statePath(), data); err != nil && s.log != nil {
		s.log.Error("failed to save session state", "session", s.ID, "error", err)
	}
}

// appendEvent appends one stamped event to today's audit chunk, fsyncing
// before return so a crash immediately after never loses the write.
func (s *Session) appendEvent(ev models.AuditEvent) {
	ev.Timestamp = float64(time.Now().UnixNano()) / 1e9
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	f, err := os.OpenFile(s.datedJSONLPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		if s.log != nil {
			s.log.Error("failed to append audit event", "session", s.ID, "error", err)
		}
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return
	}
	_ = f.Sync()
}

// AddUserMessage appends a user turn to memory and the audit trail.
func (s *Session) AddUserMessage(text, sender, source string) {
	s.AddUserMessageWithBlocks(text, nil, sender, source)
}

// AddUserMessageWithBlocks appends a user turn carrying neutral
// image/document content blocks alongside the text (e.g. decoded HTTP
// attachments). The audit trail records the text only — binary content
// never round-trips through the log.
func (s *Session) AddUserMessageWithBlocks(text string, blocks []models.ContentBlock, sender, source string) {
	s.mu.Lock()
	s.Messages = append(s.Messages, models.Message{Role: models.RoleUser, Content: text, Blocks: blocks, Sender: sender, Source: source})
	s.mu.Unlock()
	s.appendEvent(models.AuditEvent{Type: models.EventMessage, Role: models.RoleUser, Content: text, From: sender, Source: source})
	s.saveState()
}

// AddAssistantMessage appends an assistant turn (e.g. outside the
// agentic loop, which normally mutates Messages directly — see
// PersistAssistantMessage for that path).
func (s *Session) AddAssistantMessage(msg models.Message) {
	s.mu.Lock()
	s.Messages = append(s.Messages, msg)
	s.TotalInputTokens += msg.Usage.InputTokens
	s.TotalOutputTokens += msg.Usage.OutputTokens
	s.mu.Unlock()
	s.appendEvent(messageEvent(msg))
	s.saveState()
}

// AddToolResults appends a tool_results turn.
func (s *Session) AddToolResults(results []models.ToolResultEntry) {
	s.mu.Lock()
	s.Messages = append(s.Messages, models.Message{Role: models.RoleToolResult, Results: results})
	s.mu.Unlock()
	for _, r := range results {
		s.appendEvent(models.AuditEvent{Type: models.EventToolResult, ToolUseID: r.ToolCallID, Content: truncate(r.Content, AuditTruncationLimit)})
	}
	s.saveState()
}

// PersistAssistantMessage records an assistant turn the caller already
// appended to Messages in place (the agentic loop's contract) — token
// totals and the audit trail still need updating, but not the slice.
func (s *Session) PersistAssistantMessage(msg models.Message) {
	s.mu.Lock()
	s.TotalInputTokens += msg.Usage.InputTokens
	s.TotalOutputTokens += msg.Usage.OutputTokens
	s.mu.Unlock()
	s.appendEvent(messageEvent(msg))
}

// PersistToolResults records tool results the caller already appended to
// Messages in place.
func (s *Session) PersistToolResults(results []models.ToolResultEntry) {
	for _, r := range results {
		s.appendEvent(models.AuditEvent{Type: models.EventToolResult, ToolUseID: r.ToolCallID, Content: truncate(r.Content, AuditTruncationLimit)})
	}
}

// Save flushes the current in-memory state to the snapshot file. Callers
// that use Persist* (because the loop mutated Messages directly) must
// call Save once afterward.
func (s *Session) Save() { s.saveState() }

func messageEvent(msg models.Message) models.AuditEvent {
	ev := models.AuditEvent{
		Type: models.EventMessage, Role: msg.Role, Content: msg.Content,
		From: msg.Sender, Source: msg.Source, Text: msg.Text,
		ToolCalls: msg.ToolCalls, Thinking: msg.Thinking, Reasoning: msg.Reasoning,
	}
	if msg.Usage != (models.Usage{}) {
		u := msg.Usage
		ev.Usage = &u
	}
	return ev
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
