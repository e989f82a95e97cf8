package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionActivatesAndPrepends(t *testing.T) {
	s := NewStore(nil)

	first := s.CreateSession()
	second := s.CreateSession()

	assert.Equal(t, second.ID, s.ActiveID())

	all := s.Sessions()
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID, "newest session should be first")
	assert.Equal(t, first.ID, all[1].ID)
}

func TestActivePointerNeverDangles(t *testing.T) {
	s := NewStore(nil)

	// Interleave creates and deletes and check the invariant after each step.
	check := func() {
		t.Helper()
		active := s.ActiveID()
		if active == "" {
			return
		}
		_, ok := s.Session(active)
		require.True(t, ok, "active pointer %q references a missing session", active)
	}

	a := s.CreateSession()
	check()
	b := s.CreateSession()
	check()
	s.DeleteSession(a.ID)
	check()
	s.DeleteSession(b.ID)
	check()
	assert.Empty(t, s.ActiveID())

	c := s.CreateSession()
	check()
	s.DeleteSession("no-such-id")
	check()
	assert.Equal(t, c.ID, s.ActiveID())
}

func TestDeleteActiveClearsPointer(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession()

	s.DeleteSession(sess.ID)

	assert.Empty(t, s.ActiveID())
	_, ok := s.ActiveSession()
	assert.False(t, ok)
}

func TestDeleteInactiveKeepsPointer(t *testing.T) {
	s := NewStore(nil)
	old := s.CreateSession()
	active := s.CreateSession()

	s.DeleteSession(old.ID)

	assert.Equal(t, active.ID, s.ActiveID())
}

func TestRenameSession(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession()

	tests := []struct {
		name  string
		id    string
		title string
		want  string
	}{
		{"plain rename", sess.ID, "Trip planning", "Trip planning"},
		{"trims whitespace", sess.ID, "  Groceries  ", "Groceries"},
		{"empty is a no-op", sess.ID, "", "Groceries"},
		{"whitespace only is a no-op", sess.ID, "   ", "Groceries"},
		{"unknown id is a no-op", "missing", "Other", "Groceries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.RenameSession(tt.id, tt.title)
			got, ok := s.Session(sess.ID)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Title)
		})
	}
}

func TestSelectUnknownSessionIgnored(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession()

	s.SelectSession("not-a-session")

	assert.Equal(t, sess.ID, s.ActiveID())
}

func TestSelectSwitchesActive(t *testing.T) {
	s := NewStore(nil)
	a := s.CreateSession()
	s.CreateSession()

	s.SelectSession(a.ID)

	assert.Equal(t, a.ID, s.ActiveID())
}

func TestAppendMessage(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession()

	ok := s.AppendMessage(sess.ID, NewUserMessage("hello"))
	require.True(t, ok)

	got, found := s.Session(sess.ID)
	require.True(t, found)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, SenderUser, got.Messages[0].Sender)
	assert.Equal(t, "hello", got.Messages[0].Text)
}

func TestAppendToMissingSessionIsDropped(t *testing.T) {
	s := NewStore(nil)
	s.CreateSession()

	ok := s.AppendMessage("missing", NewUserMessage("lost"))

	assert.False(t, ok)
	for _, sess := range s.Sessions() {
		assert.Empty(t, sess.Messages)
	}
}

func TestSnapshotsDoNotAliasStoreState(t *testing.T) {
	s := NewStore(nil)
	sess := s.CreateSession()
	s.AppendMessage(sess.ID, NewUserMessage("original"))

	snap, _ := s.Session(sess.ID)
	snap.Messages[0].Text = "mutated"
	snap.Title = "mutated"

	got, _ := s.Session(sess.ID)
	assert.Equal(t, "original", got.Messages[0].Text)
	assert.Equal(t, defaultTitle, got.Title)
}

func TestIDsAreUniqueAndOrdered(t *testing.T) {
	s := NewStore(nil)
	a := s.CreateSession()
	b := s.CreateSession()

	assert.NotEqual(t, a.ID, b.ID)
	// UUIDv7 ids sort by creation time.
	assert.Less(t, a.ID, b.ID)
}
