package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/deskmate/internal/types"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore keeps binary artifacts (generated images, user photos) as
// artifacts/<id>.bin with a sidecar artifacts/<id>.json holding the meta.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) dir() string {
	return filepath.Join(a.root, "artifacts")
}

func (a *ArtifactStore) dataPath(id types.ArtifactID) string {
	return filepath.Join(a.dir(), string(id)+".bin")
}

func (a *ArtifactStore) metaPath(id types.ArtifactID) string {
	return filepath.Join(a.dir(), string(id)+".json")
}

// Put stores data and returns the new artifact's ID. The meta file is
// written last so a reader never sees meta without data.
func (a *ArtifactStore) Put(_ context.Context, userID types.UserID, runID types.RunID, tool, mimeType string, data []byte) (types.ArtifactID, error) {
	id := types.NewArtifactID()
	meta := &types.ArtifactMeta{
		ID:        id,
		UserID:    userID,
		RunID:     runID,
		Tool:      tool,
		CreatedAt: time.Now(),
		MimeType:  mimeType,
	}
	rawMeta, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact meta: %w", err)
	}

	if err := os.MkdirAll(a.dir(), 0o755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}
	if err := writeAtomic(a.dataPath(id), data); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := writeAtomic(a.metaPath(id), rawMeta); err != nil {
		os.Remove(a.dataPath(id))
		return "", fmt.Errorf("write artifact meta: %w", err)
	}
	return id, nil
}

// Get returns the artifact bytes and meta.
func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) ([]byte, *types.ArtifactMeta, error) {
	if id == "" || filepath.Base(string(id)) != string(id) {
		return nil, nil, fmt.Errorf("%w: %q", ErrArtifactNotFound, id)
	}
	rawMeta, err := os.ReadFile(a.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
		}
		return nil, nil, fmt.Errorf("read artifact meta: %w", err)
	}
	var meta types.ArtifactMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshal artifact meta: %w", err)
	}
	data, err := os.ReadFile(a.dataPath(id))
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, &meta, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
