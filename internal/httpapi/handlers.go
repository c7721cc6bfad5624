package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type chatBody struct {
	Message     string           `json:"message"`
	Sender      string           `json:"sender"`
	Context     string           `json:"context"`
	Tier        string           `json:"tier"`
	Attachments []attachmentBody `json:"attachments"`
}

type notifyBody struct {
	Message     string           `json:"message"`
	Sender      string           `json:"sender"`
	Source      string           `json:"source"`
	Ref         string           `json:"ref"`
	Data        any              `json:"data"`
	Attachments []attachmentBody `json:"attachments"`
}

type attachmentBody struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Filename    string `json:"filename"`
}

// handleChat implements POST /api/v1/chat: synchronous request/response
// through the shared dispatch queue.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	message := strings.TrimSpace(body.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "\"message\" field is required"})
		return
	}

	senderTag := body.Sender
	if senderTag == "" {
		senderTag = "default"
	}
	sender := "http-" + senderTag

	text := message
	if body.Context != "" {
		text = fmt.Sprintf("[%s] %s", body.Context, message)
	}

	tier := body.Tier
	if tier == "" {
		tier = "full"
	}

	attachments := s.decodeAttachments(body.Attachments)

	item := QueueItem{
		Sender:      sender,
		Type:        "http",
		Text:        text,
		Tier:        tier,
		Attachments: attachments,
		ResponseCh:  make(chan ChatResult, 1),
	}

	if s.log != nil {
		s.log.Info("HTTP /chat queued", "sender", sender, "context", body.Context, "attachments", len(attachments))
	}

	select {
	case s.queue <- item:
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AgentTimeout)
	defer cancel()

	select {
	case result := <-item.ResponseCh:
		writeJSON(w, http.StatusOK, result)
	case <-ctx.Done():
		if s.log != nil {
			s.log.Error("HTTP /chat timeout", "sender", sender)
		}
		writeJSON(w, http.StatusRequestTimeout, map[string]string{"error": "processing timeout"})
	}
}

// handleNotify implements POST /api/v1/notify: fire-and-forget ingestion.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body notifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	message := strings.TrimSpace(body.Message)
	if message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "\"message\" field is required"})
		return
	}

	senderTag := body.Sender
	if senderTag == "" {
		senderTag = "default"
	}
	sender := "http-" + senderTag

	var parts []string
	if body.Source != "" {
		parts = append(parts, fmt.Sprintf("[source: %s]", body.Source))
	}
	if body.Ref != "" {
		parts = append(parts, fmt.Sprintf("[ref: %s]", body.Ref))
	}
	parts = append(parts, message)
	text := strings.Join(parts, " ")

	meta := map[string]any{}
	if body.Source != "" {
		meta["source"] = body.Source
	}
	if body.Ref != "" {
		meta["ref"] = body.Ref
	}
	if body.Data != nil {
		meta["data"] = body.Data
	}
	if len(meta) == 0 {
		meta = nil
	}

	attachments := s.decodeAttachments(body.Attachments)

	item := QueueItem{
		Sender:      sender,
		Type:        "system",
		Text:        "[AUTOMATED SYSTEM MESSAGE] " + text,
		Tier:        "operational",
		Attachments: attachments,
		NotifyMeta:  meta,
	}

	if s.log != nil {
		s.log.Info("HTTP /notify queued", "sender", sender, "source", body.Source, "ref", body.Ref, "attachments", len(attachments))
	}

	select {
	case s.queue <- item:
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"queued_at": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok"}
	if s.cfg.GetStatus != nil {
		status = s.cfg.GetStatus()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	var sessionList []map[string]any
	if s.cfg.GetSessions != nil {
		sessionList = s.cfg.GetSessions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessionList})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "today"
	}
	if period != "today" && period != "week" && period != "all" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "period must be 'today', 'week', or 'all'"})
		return
	}

	costData := map[string]any{"period": period, "total_cost": 0.0, "models": []any{}}
	if s.cfg.GetCost != nil {
		costData = s.cfg.GetCost(period)
	}
	writeJSON(w, http.StatusOK, costData)
}

// decodeAttachments base64-decodes each item to disk, silently skipping
// any entry missing content_type or data.
func (s *Server) decodeAttachments(raw []attachmentBody) []Attachment {
	if len(raw) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		return nil
	}

	var out []Attachment
	for _, item := range raw {
		if item.ContentType == "" || item.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(item.Data)
		if err != nil {
			continue
		}
		filename := item.Filename
		if filename == "" {
			filename = "attachment"
		}
		safeName := fmt.Sprintf("%d_%s", time.Now().UnixMilli(), filename)
		localPath := filepath.Join(s.cfg.DownloadDir, safeName)
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			continue
		}
		out = append(out, Attachment{
			ContentType: item.ContentType,
			LocalPath:   localPath,
			Filename:    filename,
			Size:        len(data),
		})
		if s.log != nil {
			s.log.Debug("HTTP attachment saved", "path", localPath, "bytes", len(data))
		}
	}
	return out
}
