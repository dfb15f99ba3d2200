package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExecuteCommand(t *testing.T) {
	conn := NewLocalConnection()
	defer conn.Close()

	result, err := conn.ExecuteCommand("echo hello", &CommandOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestLocalExecuteCommandNonZeroExit(t *testing.T) {
	conn := NewLocalConnection()
	defer conn.Close()

	result, err := conn.ExecuteCommand("false", &CommandOptions{})
	require.NoError(t, err)
	assert.True(t, result.Failed())
}

func TestLocalExecuteCommandShellPipeline(t *testing.T) {
	conn := NewLocalConnection()
	defer conn.Close()

	result, err := conn.ExecuteCommand("echo hello | tr a-z A-Z", &CommandOptions{UseShell: true})
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", result.Stdout)
}

func TestLocalExecuteCommandUnknownBinary(t *testing.T) {
	conn := NewLocalConnection()
	defer conn.Close()

	_, err := conn.ExecuteCommand("definitely-not-a-real-binary-xyz", &CommandOptions{})
	assert.Error(t, err)
}

func TestLocalFileOperations(t *testing.T) {
	conn := NewLocalConnection()
	defer conn.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "file.txt")

	require.NoError(t, conn.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, conn.WriteFile(path, []byte("content"), 0o600))

	data, err := conn.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	info, err := conn.Stat(path, true)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, conn.Chmod(path, 0o644))
	info, err = conn.Stat(path, true)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	require.NoError(t, conn.Remove(path))
	_, err = conn.Stat(path, true)
	assert.Error(t, err)
}
