package intent

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("Create_Event")
	require.True(t, ok)
	assert.Equal(t, CreateEvent, k)

	k, ok = ParseKind("calendar_delete")
	assert.False(t, ok)
	assert.Equal(t, None, k)
}

func TestSetIgnoresZeroValues(t *testing.T) {
	in := New(CreateEvent)
	in.Set(SlotTitle, String("standup"))
	in.Set(SlotTitle, String("  "))
	in.Set(SlotStart, DateTime(time.Time{}))

	assert.Equal(t, "standup", in.Text(SlotTitle))
	assert.False(t, in.Has(SlotStart))
}

func TestMergeLastValueWins(t *testing.T) {
	older := New(CreateEvent)
	older.Set(SlotTitle, String("standup"))
	older.Set(SlotDuration, Duration(time.Hour))

	newer := New(CreateEvent)
	newer.Set(SlotTitle, String("retro"))
	newer.Notify = true

	merged := older.Merge(newer)
	assert.Equal(t, "retro", merged.Text(SlotTitle))
	assert.True(t, merged.Has(SlotDuration))
	assert.True(t, merged.Notify)
	assert.Equal(t, "standup", older.Text(SlotTitle), "merge must not mutate the receiver")
}

func TestMissingPreservesOrder(t *testing.T) {
	in := New(CreateEvent)
	in.Set(SlotStart, DateTime(time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC)))

	required := []SlotName{SlotTitle, SlotStart, SlotDuration}
	assert.Equal(t, []SlotName{SlotTitle, SlotDuration}, in.Missing(required))
	assert.Equal(t, map[SlotName]SlotStatus{
		SlotTitle:    Missing,
		SlotStart:    Filled,
		SlotDuration: Missing,
	}, in.FillStatus(required))
}

func TestIntentJSONRoundTripKeepsTypes(t *testing.T) {
	in := New(SendEmail)
	in.Set(SlotTo, Emails("bob@example.com"))
	in.Set(SlotBody, String("hi"))

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Intent
	require.NoError(t, json.Unmarshal(data, &out))
	v, ok := out.Get(SlotTo)
	require.True(t, ok)
	assert.Equal(t, TypeEmail, v.Type)
	assert.Equal(t, []string{"bob@example.com"}, v.Addresses)
}
