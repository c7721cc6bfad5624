package schedule

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fakeChannel struct {
	sent chan string
}

func (c *fakeChannel) Send(ctx context.Context, target, text string, attachments []string) error {
	if c.sent != nil {
		c.sent <- target + ":" + text
	}
	return nil
}

func TestHandleRejectsMissingAtAndCron(t *testing.T) {
	s := New(&fakeChannel{}, nil)
	defer s.Stop()

	args, _ := json.Marshal(map[string]string{"target": "alice", "text": "hi"})
	_, err := s.handle(context.Background(), args)
	if err == nil {
		t.Fatal("expected error when neither 'at' nor 'cron' is set")
	}
}

func TestHandleRejectsBothAtAndCron(t *testing.T) {
	s := New(&fakeChannel{}, nil)
	defer s.Stop()

	args, _ := json.Marshal(map[string]string{
		"target": "alice", "text": "hi",
		"at": time.Now().Add(time.Hour).Format(time.RFC3339), "cron": "* * * * *",
	})
	_, err := s.handle(context.Background(), args)
	if err == nil {
		t.Fatal("expected error when both 'at' and 'cron' are set")
	}
}

func TestHandleRejectsPastAt(t *testing.T) {
	s := New(&fakeChannel{}, nil)
	defer s.Stop()

	args, _ := json.Marshal(map[string]string{
		"target": "alice", "text": "hi",
		"at": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	_, err := s.handle(context.Background(), args)
	if err == nil {
		t.Fatal("expected error for an 'at' time in the past")
	}
}

func TestHandleSchedulesOneShotAndDelivers(t *testing.T) {
	ch := &fakeChannel{sent: make(chan string, 1)}
	s := New(ch, nil)
	defer s.Stop()

	at := time.Now().Add(50 * time.Millisecond)
	args, _ := json.Marshal(map[string]string{
		"target": "alice", "text": "reminder", "at": at.Format(time.RFC3339Nano),
	})
	msg, err := s.handle(context.Background(), args)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(msg, "Scheduled message to alice") {
		t.Fatalf("unexpected confirmation: %q", msg)
	}

	select {
	case got := <-ch.sent:
		if got != "alice:reminder" {
			t.Fatalf("unexpected delivery: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected scheduled message to be delivered")
	}
}

func TestHandleRejectsInvalidCron(t *testing.T) {
	s := New(&fakeChannel{}, nil)
	defer s.Stop()

	args, _ := json.Marshal(map[string]string{"target": "alice", "text": "hi", "cron": "not a cron expression"})
	_, err := s.handle(context.Background(), args)
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
