package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBuild(t *testing.T) {
	dir := t.TempDir()

	err := NewBuilder().
		SetLevel(INFO).
		SetMaxSize(1).
		AddLevelFile(INFO, filepath.Join(dir, "info.log")).
		Build()
	require.NoError(t, err)
	defer Close()

	Info().Str("component", "test").Msg("hello from test")
	Close()

	data, err := os.ReadFile(filepath.Join(dir, "info.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "hello from test"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, parseLevel("debug"), parseLevel("DEBUG"))
	assert.NotEqual(t, parseLevel("debug"), parseLevel("error"))
	// 未知等级回退到 info
	assert.Equal(t, parseLevel("info"), parseLevel("unknown"))
}

func TestLevelFilesIsEmpty(t *testing.T) {
	var lf LevelFiles
	assert.True(t, lf.IsEmpty())

	lf = append(lf, LevelFileEntry{Level: INFO, Path: "a.log"})
	assert.False(t, lf.IsEmpty())
	assert.Equal(t, []string{"a.log"}, lf.GetPaths())
}
