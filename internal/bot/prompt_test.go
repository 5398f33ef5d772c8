package bot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptDefaultsWhenNoFile(t *testing.T) {
	m, err := NewPromptManager("", "", "")
	require.NoError(t, err)
	assert.Contains(t, m.SystemPrompt(), "professional crypto trader")
}

func TestPromptFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "system_prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("You are a cautious swing trader.\n"), 0o644))

	m, err := NewPromptManager(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "You are a cautious swing trader.", m.SystemPrompt())
}

func TestPromptMissingFileFallsBack(t *testing.T) {
	m, err := NewPromptManager(filepath.Join(t.TempDir(), "absent.txt"), "", "")
	require.NoError(t, err)
	assert.Contains(t, m.SystemPrompt(), "professional crypto trader")
}

func TestPromptProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scalper: |\n  Trade fast, close faster.\nswing: |\n  Hold for days.\n"), 0o644))

	m, err := NewPromptManager("", path, "swing")
	require.NoError(t, err)
	assert.Equal(t, "Hold for days.", m.SystemPrompt())

	_, err = NewPromptManager("", path, "missing")
	assert.Error(t, err)
}
