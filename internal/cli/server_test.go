package cli

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRequest_OptionsDoNotLeakBetweenRequests(t *testing.T) {
	st, snap, err := openSnapshot(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	// Request 1 is a dry run; its row must not persist and its option must
	// not stick to later requests.
	out, err := handleRequest(ctx, snap, []string{"--dry-run", "create", "Switch", "name=ghost"})
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 36)

	out, err = handleRequest(ctx, snap, []string{"create", "Switch", "name=real"})
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(out), 36)

	out, err = handleRequest(ctx, snap, []string{"list", "Switch"})
	require.NoError(t, err)
	assert.Contains(t, out, "real")
	assert.NotContains(t, out, "ghost")
}

func TestHandleRequest_BadOptions(t *testing.T) {
	st, snap, err := openSnapshot(filepath.Join(t.TempDir(), "replica.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = handleRequest(context.Background(), snap, []string{"--wait=bogus", "list", "Switch"})
	require.Error(t, err)

	_, err = handleRequest(context.Background(), snap, []string{"not-a-command"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}
