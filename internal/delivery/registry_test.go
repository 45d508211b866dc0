package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/internal/types"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry()

	var gotUser types.UserID
	var gotText string
	reg.Register("test:", func(_ context.Context, userID types.UserID, reply types.Reply) error {
		gotUser = userID
		gotText = reply.Text
		return nil
	})

	err := reg.Deliver(context.Background(), "test:123", types.Reply{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "test:123" {
		t.Errorf("expected user %q, got %q", "test:123", gotUser)
	}
	if gotText != "hello" {
		t.Errorf("expected message %q, got %q", "hello", gotText)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Deliver(context.Background(), "unknown:123", types.Reply{Text: "hello"})
	if err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryMultiplePrefixes(t *testing.T) {
	reg := NewRegistry()

	var telegramCalls, httpCalls int
	reg.Register("telegram:", func(context.Context, types.UserID, types.Reply) error {
		telegramCalls++
		return nil
	})
	reg.Register("http:", func(context.Context, types.UserID, types.Reply) error {
		httpCalls++
		return nil
	})

	ctx := context.Background()
	reg.Deliver(ctx, "telegram:1", types.Reply{Text: "a"})
	reg.Deliver(ctx, "http:alice", types.Reply{Text: "b"})
	reg.Deliver(ctx, "telegram:2", types.Reply{Text: "c"})

	if telegramCalls != 2 {
		t.Errorf("expected 2 telegram calls, got %d", telegramCalls)
	}
	if httpCalls != 1 {
		t.Errorf("expected 1 http call, got %d", httpCalls)
	}
}

func TestRegistryLongestPrefixWins(t *testing.T) {
	reg := NewRegistry()

	var got string
	reg.Register("", func(context.Context, types.UserID, types.Reply) error {
		got = "default"
		return nil
	})
	reg.Register("telegram:", func(context.Context, types.UserID, types.Reply) error {
		got = "telegram"
		return nil
	})

	if err := reg.Deliver(context.Background(), "telegram:9", types.Reply{}); err != nil {
		t.Fatal(err)
	}
	if got != "telegram" {
		t.Errorf("expected telegram handler, got %s", got)
	}
	if err := reg.Deliver(context.Background(), "cli:me", types.Reply{}); err != nil {
		t.Fatal(err)
	}
	if got != "default" {
		t.Errorf("expected default handler, got %s", got)
	}
}

func TestRegistryHandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.Register("test:", func(context.Context, types.UserID, types.Reply) error { return boom })

	if err := reg.Deliver(context.Background(), "test:1", types.Reply{}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped handler error, got %v", err)
	}
}

func TestJournalHandler(t *testing.T) {
	events := state.NewEventStore(t.TempDir())
	reg := NewRegistry()
	reg.Register("http:", JournalHandler(events))

	if err := reg.Deliver(context.Background(), "http:alice", types.Reply{Text: "Reminder: stretch"}); err != nil {
		t.Fatal(err)
	}
	got, err := events.Tail(context.Background(), "http:alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Type != types.EventAgentMessage {
		t.Fatalf("expected one agent message, got %+v", got)
	}
}
