package state

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/user/deskmate/internal/types"
)

func TestArtifactStore(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	ctx := context.Background()

	userID := types.NewUserID("telegram", "42")
	runID := types.NewRunID()
	png := []byte{0x89, 'P', 'N', 'G', 0, 1, 2}

	id, err := store.Put(ctx, userID, runID, "image.generate", "image/png", png)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected non-empty artifact ID")
	}

	data, meta, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, png) {
		t.Error("data mismatch")
	}
	if meta.Tool != "image.generate" {
		t.Errorf("expected tool image.generate, got %s", meta.Tool)
	}
	if meta.MimeType != "image/png" {
		t.Errorf("expected image/png, got %s", meta.MimeType)
	}
	if meta.UserID != userID {
		t.Errorf("expected user %s, got %s", userID, meta.UserID)
	}
}

func TestArtifactStoreNotFound(t *testing.T) {
	store := NewArtifactStore(t.TempDir())

	for _, id := range []types.ArtifactID{"missing", "", "../etc/passwd"} {
		_, _, err := store.Get(context.Background(), id)
		if !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("Get(%q): expected ErrArtifactNotFound, got %v", id, err)
		}
	}
}
