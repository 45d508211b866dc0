package types

import (
	"context"
)

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, userID UserID, limit int) ([]*Event, error)
	Count(ctx context.Context, userID UserID) (int64, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, userID UserID, runID RunID, tool, mimeType string, data []byte) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) ([]byte, *ArtifactMeta, error)
}
