package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAgentScript writes a shell script that records its arguments, standing
// in for the node login script.
func fakeAgentScript(t *testing.T, body string) (script, outFile string) {
	t.Helper()
	dir := t.TempDir()
	outFile = filepath.Join(dir, "args.txt")
	script = filepath.Join(dir, "agent.sh")
	content := "#!/bin/sh\necho \"$@\" > " + outFile + "\n" + body
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script, outFile
}

func TestLoginAgentRunPassesCredentials(t *testing.T) {
	script, outFile := fakeAgentScript(t, "exit 0")
	a := NewLoginAgent("ignored.js", 5*time.Second, true, zap.NewNop())
	a.Command = script

	require.NoError(t, a.Run(context.Background(), "user@example.com", "pw"))

	args, err := os.ReadFile(outFile)
	require.NoError(t, err)
	got := strings.TrimSpace(string(args))
	assert.Contains(t, got, "ignored.js")
	assert.Contains(t, got, "--email user@example.com")
	assert.Contains(t, got, "--password pw")
}

func TestLoginAgentRunNonZeroExit(t *testing.T) {
	script, _ := fakeAgentScript(t, "exit 3")
	a := NewLoginAgent("ignored.js", 5*time.Second, true, zap.NewNop())
	a.Command = script

	err := a.Run(context.Background(), "user@example.com", "pw")
	assert.Error(t, err)
}

func TestLoginAgentDisabled(t *testing.T) {
	a := NewLoginAgent("ignored.js", 5*time.Second, false, zap.NewNop())
	err := a.Run(context.Background(), "user@example.com", "pw")
	assert.Error(t, err)
}

func TestLoginAgentTimeout(t *testing.T) {
	script, _ := fakeAgentScript(t, "sleep 5")
	a := NewLoginAgent("ignored.js", 100*time.Millisecond, true, zap.NewNop())
	a.Command = script

	start := time.Now()
	err := a.Run(context.Background(), "user@example.com", "pw")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
