// Package classify maps one user utterance, read against the session's
// recent turns and pending operation, to an intent with extracted slots.
package classify

import (
	"context"
	"time"

	"github.com/user/deskmate/internal/intent"
	"github.com/user/deskmate/internal/session"
)

// Input is everything a classifier may look at for one turn.
type Input struct {
	Text    string
	Turns   []session.Turn
	Pending *session.PendingOperation
	Now     time.Time
	// Location resolves relative dates. Nil means UTC.
	Location *time.Location
	// Attachment is the artifact id of an image sent with this turn.
	Attachment string
	// LastImage is the artifact id of the session's most recent image.
	LastImage string
}

func (in Input) loc() *time.Location {
	if in.Location == nil {
		return time.UTC
	}
	return in.Location
}

func (in Input) hasImage() bool {
	return in.Attachment != "" || in.LastImage != ""
}

type Result struct {
	Intent intent.Intent
	// Ambiguous means two kinds scored equally; Intent is none.
	Ambiguous bool
	// TopicChange means a pending operation exists and the user explicitly
	// asked for something else.
	TopicChange bool
	Confidence  float64
}

type Classifier interface {
	Classify(ctx context.Context, in Input) (Result, error)
}
