// Package schedule implements the "schedule_message" tool: a deferred or
// recurring send through the same outbound channel the "message" tool
// uses, grounded on haasonsaas-nexus/internal/cron/schedule.go's
// Schedule type (parse once, compute Next) but backed directly by
// robfig/cron/v3's scheduler rather than a polling loop.
//
// schedule_message is named only in original_source/tools/agents.py's
// sub-agent deny-list (_DEFAULT_SUBAGENT_DENY); it is never itself
// implemented there. It is available to the primary agent and always
// denied to sub-agents by default, matching that deny-list.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nicolasforstinger/lucyd-sub001/internal/observability"
	"github.com/nicolasforstinger/lucyd-sub001/internal/tools"
)

// Channel is the minimum outbound surface the scheduled send needs.
type Channel interface {
	Send(ctx context.Context, target, text string, attachments []string) error
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler owns a running robfig/cron engine and the entries it has
// queued. One per daemon process; Register wires a "schedule_message"
// tool handler onto it.
type Scheduler struct {
	engine  *cron.Cron
	channel Channel
	log     *observability.Logger
}

// New starts a Scheduler's cron engine. Call Stop on daemon shutdown.
func New(channel Channel, log *observability.Logger) *Scheduler {
	s := &Scheduler{
		engine:  cron.New(cron.WithParser(cronParser)),
		channel: channel,
		log:     log,
	}
	s.engine.Start()
	return s
}

// Stop halts the engine, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.engine.Stop().Done()
}

type scheduleArgs struct {
	Target string `json:"target"`
	Text   string `json:"text"`
	At     string `json:"at"`
	Cron   string `json:"cron"`
	Zone   string `json:"timezone"`
}

// Register adds the "schedule_message" tool to reg.
func Register(reg *tools.Registry, s *Scheduler) {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target":   map[string]any{"type": "string", "description": "Recipient contact to send to"},
			"text":     map[string]any{"type": "string", "description": "Message text to send when the schedule fires"},
			"at":       map[string]any{"type": "string", "description": "One-shot fire time, RFC3339 or 'YYYY-MM-DD HH:MM'. Mutually exclusive with cron."},
			"cron":     map[string]any{"type": "string", "description": "Recurring cron expression (seconds optional). Mutually exclusive with at."},
			"timezone": map[string]any{"type": "string", "description": "IANA timezone for 'at'/'cron' evaluation, default local"},
		},
		"required": []string{"target", "text"},
	})

	reg.Register("schedule_message",
		"Schedule a message to be sent later, once or on a recurring cron schedule.",
		schema, s.handle)
}

func (s *Scheduler) handle(ctx context.Context, arguments json.RawMessage) (string, error) {
	var args scheduleArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", tools.InvalidArguments(err)
	}
	args.Target = strings.TrimSpace(args.Target)
	args.At = strings.TrimSpace(args.At)
	args.Cron = strings.TrimSpace(args.Cron)
	if args.Target == "" || args.Text == "" {
		return "", tools.InvalidArguments(fmt.Errorf("target and text are required"))
	}
	if args.At == "" && args.Cron == "" {
		return "", tools.InvalidArguments(fmt.Errorf("exactly one of 'at' or 'cron' is required"))
	}
	if args.At != "" && args.Cron != "" {
		return "", tools.InvalidArguments(fmt.Errorf("'at' and 'cron' are mutually exclusive"))
	}

	loc := time.Local
	if args.Zone != "" {
		tz, err := time.LoadLocation(args.Zone)
		if err != nil {
			return "", tools.InvalidArguments(fmt.Errorf("invalid timezone %q: %w", args.Zone, err))
		}
		loc = tz
	}

	job := func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.channel.Send(sendCtx, args.Target, args.Text, nil); err != nil && s.log != nil {
			s.log.Error("scheduled message delivery failed", "target", args.Target, "error", err)
		}
	}

	if args.Cron != "" {
		sched, err := cronParser.Parse(args.Cron)
		if err != nil {
			return "", tools.InvalidArguments(fmt.Errorf("invalid cron expression: %w", err))
		}
		s.engine.Schedule(&locatedSchedule{inner: sched, loc: loc}, cron.FuncJob(job))
		return fmt.Sprintf("Scheduled recurring message to %s (%s)", args.Target, args.Cron), nil
	}

	at, err := parseAt(args.At, loc)
	if err != nil {
		return "", tools.InvalidArguments(err)
	}
	if !at.After(time.Now()) {
		return "", tools.InvalidArguments(fmt.Errorf("'at' time %s is not in the future", at.Format(time.RFC3339)))
	}
	var id cron.EntryID
	id = s.engine.Schedule(oneShot(at), cron.FuncJob(func() {
		job()
		s.engine.Remove(id)
	}))
	return fmt.Sprintf("Scheduled message to %s at %s", args.Target, at.Format(time.RFC3339)), nil
}

// locatedSchedule evaluates an underlying cron.Schedule in a fixed
// timezone regardless of what location the caller passes to Next.
type locatedSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (l *locatedSchedule) Next(t time.Time) time.Time {
	return l.inner.Next(t.In(l.loc))
}

// oneShot is a cron.Schedule that fires exactly once, at a fixed time.
type oneShot time.Time

func (o oneShot) Next(t time.Time) time.Time {
	at := time.Time(o)
	if t.After(at) {
		return time.Time{}
	}
	return at
}

func parseAt(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("'at' value required")
	}
	if t, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid 'at' time %q: use RFC3339 or 'YYYY-MM-DD HH:MM'", value)
}
