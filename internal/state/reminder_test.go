package state

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/user/deskmate/internal/types"
)

func TestReminderStore_ListEmpty(t *testing.T) {
	store := NewReminderStore(filepath.Join(t.TempDir(), "reminders.json"))

	reminders, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(reminders) != 0 {
		t.Errorf("expected empty list, got %d reminders", len(reminders))
	}
}

func TestReminderStore_AddAndList(t *testing.T) {
	store := NewReminderStore(filepath.Join(t.TempDir(), "reminders.json"))
	base := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	late := &Reminder{UserID: "telegram:1", Text: "call mom", At: base.Add(2 * time.Hour)}
	early := &Reminder{UserID: "telegram:1", Text: "stretch", At: base.Add(15 * time.Minute)}
	for _, r := range []*Reminder{late, early} {
		if err := store.Add(r); err != nil {
			t.Fatal(err)
		}
	}
	if late.ID == "" || late.CreatedAt.IsZero() {
		t.Error("expected id and created_at to be assigned")
	}

	reminders, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(reminders) != 2 {
		t.Fatalf("expected 2 reminders, got %d", len(reminders))
	}
	if reminders[0].Text != "stretch" {
		t.Errorf("expected earliest first, got %s", reminders[0].Text)
	}
	if !reminders[1].At.Equal(late.At) {
		t.Errorf("expected at %s, got %s", late.At, reminders[1].At)
	}
}

func TestReminderStore_AddDuplicate(t *testing.T) {
	store := NewReminderStore(filepath.Join(t.TempDir(), "reminders.json"))
	r := &Reminder{ID: "r1", UserID: "telegram:1", Text: "x", At: time.Now()}

	if err := store.Add(r); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(r); err == nil {
		t.Fatal("expected error for duplicate reminder id")
	}
}

func TestReminderStore_MarkDeliveredAndPending(t *testing.T) {
	store := NewReminderStore(filepath.Join(t.TempDir(), "reminders.json"))
	now := time.Now()
	a := &Reminder{UserID: "telegram:1", Text: "a", At: now}
	b := &Reminder{UserID: "telegram:1", Text: "b", At: now.Add(time.Hour)}
	for _, r := range []*Reminder{a, b} {
		if err := store.Add(r); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.MarkDelivered(a.ID); err != nil {
		t.Fatal(err)
	}
	pending, err := store.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Errorf("expected only %s pending, got %v", b.ID, pending)
	}

	got, err := store.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Delivered {
		t.Error("expected reminder to be delivered")
	}
}

func TestReminderStore_Remove(t *testing.T) {
	store := NewReminderStore(filepath.Join(t.TempDir(), "reminders.json"))
	r := &Reminder{UserID: "telegram:1", Text: "x", At: time.Now()}
	if err := store.Add(r); err != nil {
		t.Fatal(err)
	}

	if err := store.Remove(r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(r.ID); !errors.Is(err, ErrReminderNotFound) {
		t.Errorf("expected ErrReminderNotFound, got %v", err)
	}
	if err := store.Remove(types.ReminderID("nope")); !errors.Is(err, ErrReminderNotFound) {
		t.Errorf("expected ErrReminderNotFound, got %v", err)
	}
}
