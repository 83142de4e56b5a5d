package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions(t *testing.T) {
	s := openTest(t, tempPath(t), Config{UIDShift: 10000})
	ctx := context.Background()
	id := "0b8f3a2e-5a8c-4a57-9d3e-6a1f2f3b4c5d"

	ok, err := s.HasSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	created := time.Unix(1_700_000_000, 0)
	require.NoError(t, s.Confirm(ctx, Session{ID: id, UID: 10042, AccessToken: "at", Created: created}))
	require.NoError(t, s.Confirm(ctx, Session{ID: id, UID: 10042, AccessToken: "at2", IDToken: "jwt", Created: created}))

	ok, err = s.HasSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.PurgeSessions(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	n, err = s.PurgeSessions(ctx, created.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err = s.HasSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmRejectsEmpty(t *testing.T) {
	s := openTest(t, tempPath(t), Config{})
	assert.ErrorIs(t, s.Confirm(context.Background(), Session{ID: "x"}), ErrEmptySession)
}
