package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/deskmate/internal/types"
)

// FileBackend stores one JSON file per user under <root>/sessions/.
type FileBackend struct {
	root string
}

func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

func (f *FileBackend) dir() string {
	return filepath.Join(f.root, "sessions")
}

// User ids contain ':' so they are path-escaped into file names.
func (f *FileBackend) path(userID types.UserID) string {
	return filepath.Join(f.dir(), url.PathEscape(string(userID))+".json")
}

func (f *FileBackend) Load(_ context.Context, userID types.UserID) (*ConversationSession, error) {
	data, err := os.ReadFile(f.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return decode(data)
}

func (f *FileBackend) Save(_ context.Context, sess *ConversationSession) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(f.dir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	path := f.path(sess.UserID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp session: %w", err)
	}
	return nil
}

func (f *FileBackend) Delete(_ context.Context, userID types.UserID) error {
	if err := os.Remove(f.path(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

func (f *FileBackend) List(_ context.Context) ([]*ConversationSession, error) {
	entries, err := os.ReadDir(f.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var out []*ConversationSession
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir(), entry.Name()))
		if err != nil {
			continue
		}
		sess, err := decode(data)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	sortSessions(out)
	return out, nil
}
