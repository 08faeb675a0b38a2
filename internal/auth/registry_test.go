package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTokenFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestRegistry_StaticToken(t *testing.T) {
	r, err := NewRegistry("sk_static", "", zerolog.Nop())
	require.NoError(t, err)

	id, ok := r.Lookup("sk_static")
	assert.True(t, ok)
	assert.Equal(t, DefaultIdentity, id.Name)

	_, ok = r.Lookup("sk_other")
	assert.False(t, ok)

	_, ok = r.Lookup("")
	assert.False(t, ok, "empty token must never match")
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_TokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	writeTokenFile(t, path, `
tokens:
  - token: sk_mobile
    identity: mobile-app
  - token: sk_anon
`)

	r, err := NewRegistry("sk_static", path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3, r.Len())

	id, ok := r.Lookup("sk_mobile")
	require.True(t, ok)
	assert.Equal(t, "mobile-app", id.Name)

	id, ok = r.Lookup("sk_anon")
	require.True(t, ok)
	assert.Equal(t, DefaultIdentity, id.Name)
}

func TestRegistry_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("no_tokens", func(t *testing.T) {
		_, err := NewRegistry("", "", zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := NewRegistry("", filepath.Join(dir, "missing.yaml"), zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("bad_yaml", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		writeTokenFile(t, path, "tokens: [::")
		_, err := NewRegistry("", path, zerolog.Nop())
		assert.Error(t, err)
	})

	t.Run("empty_token_entry", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		writeTokenFile(t, path, "tokens:\n  - identity: nobody\n")
		_, err := NewRegistry("", path, zerolog.Nop())
		assert.ErrorIs(t, err, ErrEmptyToken)
	})
}

func TestRegistry_ReloadKeepsPreviousOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	writeTokenFile(t, path, "tokens:\n  - token: sk_one\n    identity: one\n")

	r, err := NewRegistry("", path, zerolog.Nop())
	require.NoError(t, err)

	writeTokenFile(t, path, "tokens: [::")
	assert.Error(t, r.Reload())

	id, ok := r.Lookup("sk_one")
	assert.True(t, ok)
	assert.Equal(t, "one", id.Name)
}

func TestRegistry_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	writeTokenFile(t, path, "tokens:\n  - token: sk_one\n")

	r, err := NewRegistry("", path, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeTokenFile(t, path, "tokens:\n  - token: sk_two\n    identity: two\n")

	assert.Eventually(t, func() bool {
		id, ok := r.Lookup("sk_two")
		return ok && id.Name == "two"
	}, 5*time.Second, 50*time.Millisecond)

	_, ok := r.Lookup("sk_one")
	assert.False(t, ok, "rotated-out token should no longer resolve")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestRegistry_WatchWithoutFile(t *testing.T) {
	r, err := NewRegistry("sk_static", "", zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, r.Watch(context.Background()))
}
