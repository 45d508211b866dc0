// Package state provides filesystem-backed storage for the turn journal,
// binary artifacts and scheduled reminders.
package state

import "github.com/user/deskmate/internal/types"

var _ types.EventStore = (*EventStore)(nil)
var _ types.ArtifactStore = (*ArtifactStore)(nil)
