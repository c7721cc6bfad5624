package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestExecuteUnknownTool(t *testing.T) {
	r := New()
	got := r.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if !strings.Contains(got, "Unknown tool 'nope'") {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestExecuteValidatesArgumentsAgainstSchema(t *testing.T) {
	r := New()
	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	})
	r.Register("greet", "greets by name", schema, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "hi", nil
	})

	got := r.Execute(context.Background(), "greet", json.RawMessage(`{}`))
	if !strings.Contains(got, "Invalid arguments for 'greet'") {
		t.Fatalf("expected validation error, got %q", got)
	}

	got = r.Execute(context.Background(), "greet", json.RawMessage(`{"name":"ada"}`))
	if got != "hi" {
		t.Fatalf("expected handler result, got %q", got)
	}
}

func TestExecuteIsolatesPanic(t *testing.T) {
	r := New()
	r.Register("boom", "panics", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		panic("kaboom")
	})

	got := r.Execute(context.Background(), "boom", json.RawMessage(`{}`))
	if !strings.Contains(got, "execution failed") {
		t.Fatalf("expected isolated failure message, got %q", got)
	}
}

func TestExecuteTruncatesLongOutput(t *testing.T) {
	r := New()
	r.TruncationLimit = 10
	r.Register("echo", "echoes", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return strings.Repeat("x", 100), nil
	})

	got := r.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if !strings.Contains(got, "[truncated at 10 chars]") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
}

func TestExecuteInvalidArgumentsFromHandler(t *testing.T) {
	r := New()
	r.Register("strict", "rejects bad input", nil, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", InvalidArguments(errors.New("bad shape"))
	})

	got := r.Execute(context.Background(), "strict", json.RawMessage(`{}`))
	if !strings.Contains(got, "Invalid arguments for 'strict'") {
		t.Fatalf("expected invalid arguments message, got %q", got)
	}
}
