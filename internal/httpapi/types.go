// Package httpapi implements the HTTP ingress: a parallel input channel
// alongside whatever chat channels the daemon runs, feeding a shared
// dispatch queue, grounded on
// original_source/channels/http_api.py.
package httpapi

import "time"

// Attachment is one decoded file handed off to the dispatcher.
type Attachment struct {
	ContentType string
	LocalPath   string
	Filename    string
	Size        int
}

// QueueItem is one unit of work the HTTP ingress hands to the dispatcher.
// ResponseCh is non-nil only for /chat's synchronous request/response
// contract; /notify fires-and-forgets with it left nil.
type QueueItem struct {
	Sender      string
	Type        string // "http" | "system"
	Text        string
	Tier        string
	Attachments []Attachment
	NotifyMeta  map[string]any

	ResponseCh chan ChatResult
}

// ChatResult is what the dispatcher sends back for a /chat request.
type ChatResult struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// StatusProvider returns the daemon's health/stat snapshot for
// GET /api/v1/status.
type StatusProvider func() map[string]any

// SessionsProvider returns the active session summaries for
// GET /api/v1/sessions.
type SessionsProvider func() []map[string]any

// CostProvider returns cost totals for a period ("today" | "week" | "all")
// for GET /api/v1/cost.
type CostProvider func(period string) map[string]any

// Config configures one Server.
type Config struct {
	Host         string
	Port         int
	AuthToken    string
	AgentTimeout time.Duration
	DownloadDir  string
	MaxBodyBytes int64

	GetStatus   StatusProvider
	GetSessions SessionsProvider
	GetCost     CostProvider
}
