package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err, "on-disk mode needs a directory")
}

func TestAppendAndTurns(t *testing.T) {
	s := openTestStore(t)

	turns := []Turn{
		{Text: "hello there", Reply: "hi friend", At: time.Now().UTC()},
		{Text: "how are you", Labels: []string{"fine thanks"}, At: time.Now().UTC()},
		{Text: "goodbye", EpisodeDone: true, At: time.Now().UTC()},
	}
	for _, turn := range turns {
		require.NoError(t, s.Append("conv-1", turn))
	}

	got, err := s.Turns("conv-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "hello there", got[0].Text)
	assert.Equal(t, "hi friend", got[0].Reply)
	assert.Equal(t, []string{"fine thanks"}, got[1].Labels)
	assert.True(t, got[2].EpisodeDone)
}

func TestAppendValidation(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Append("", Turn{Text: "x"}))
}

func TestTurnsUnknownSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Turns("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	s := openTestStore(t)
	assert.False(t, s.Exists("conv-1"))
	require.NoError(t, s.Append("conv-1", Turn{Text: "hello"}))
	assert.True(t, s.Exists("conv-1"))
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append("conv-1", Turn{Text: "hello"}))
	require.NoError(t, s.Delete("conv-1"))
	assert.False(t, s.Exists("conv-1"))

	_, err := s.Turns("conv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete("never-existed"))
}

func TestIDs(t *testing.T) {
	s := openTestStore(t)
	ids, err := s.IDs()
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.Append("a", Turn{Text: "one"}))
	require.NoError(t, s.Append("b", Turn{Text: "two"}))
	require.NoError(t, s.Append("a", Turn{Text: "three"}))

	ids, err = s.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestTranscriptsAreIndependent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append("a", Turn{Text: "for a"}))
	require.NoError(t, s.Append("b", Turn{Text: "for b"}))

	got, err := s.Turns("a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "for a", got[0].Text)
}
