package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/cardbridge-go/host"
)

func TestCardFilesRoundtrip(t *testing.T) {
	dir := t.TempDir()
	files := CardFiles{}
	ctx := context.Background()
	card := host.Card{ID: "card-1", Path: filepath.Join(dir, "card-1")}

	missing, err := files.LoadConfig(ctx, card)
	require.NoError(t, err)
	assert.Nil(t, missing)

	path, err := files.SaveConfig(ctx, card, map[string]any{
		"title": "Groceries",
		"style": map[string]any{"color": "red"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "card-1", ConfigFileName), path)

	config, err := files.LoadConfig(ctx, card)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Groceries", "style": map[string]any{"color": "red"}}, config)

	entries, err := os.ReadDir(filepath.Join(dir, "card-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestCardFilesRootFallback(t *testing.T) {
	root := t.TempDir()
	files := CardFiles{Root: root}

	path, err := files.ConfigPath(host.Card{ID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "abc", ConfigFileName), path)

	_, err = files.ConfigPath(host.Card{ID: "../escape"})
	assert.Error(t, err)
	_, err = CardFiles{}.ConfigPath(host.Card{ID: "abc"})
	assert.Error(t, err)
}

func TestCardFilesReportsPathOnFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	path, err := CardFiles{}.SaveConfig(context.Background(), host.Card{ID: "c", Path: filepath.Join(blocker, "card")}, map[string]any{})
	assert.Error(t, err)
	assert.Equal(t, filepath.Join(blocker, "card", ConfigFileName), path)
}
