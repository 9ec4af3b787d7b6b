package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/taskhost/internal/manager"
	"github.com/zjrosen/taskhost/internal/task"
)

// executeCommand runs the root command with args against a fresh output
// buffer. Command-local flag variables are reset first.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	runTasks, runSpool = nil, ""
	historyLimit, historyState, historyKind, historyPrune = 20, "", "", 0
	initConfigForce = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

// writeTestConfig creates a config with history inside a temp dir.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	path := filepath.Join(dir, "config.yaml")
	body := "ceiling: 2\nhistory:\n  enabled: true\n  path: " + filepath.Join(dir, "history.db") + "\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseTaskSpec(t *testing.T) {
	tests := []struct {
		in      string
		kind    string
		params  task.Params
		wantErr bool
	}{
		{in: "sleep", kind: "sleep", params: task.Params{}},
		{in: "sleep:", kind: "sleep", params: task.Params{}},
		{in: "sleep:duration=2s,steps=4", kind: "sleep", params: task.Params{"duration": "2s", "steps": "4"}},
		{in: " shell : command = echo hi ", kind: "shell", params: task.Params{"command": "echo hi"}},
		{in: "fail:message=", kind: "fail", params: task.Params{"message": ""}},
		{in: "", wantErr: true},
		{in: ":a=b", wantErr: true},
		{in: "sleep:duration", wantErr: true},
		{in: "sleep:=1s", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, params, err := parseTaskSpec(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, kind)
			require.Equal(t, tt.params, params)
		})
	}
}

func TestRunThenHistory(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := executeCommand(t, "run", "--config", cfgPath,
		"--task", "sleep:duration=20ms,steps=2",
		"--task", "fail:message=boom")
	require.NoError(t, err)
	require.Contains(t, out, "progress 50")
	require.Contains(t, out, "completed")
	require.Contains(t, out, "failed: boom")
	require.Contains(t, out, "2 done (1 ok, 1 failed, 0 canceled)")

	out, err = executeCommand(t, "history", "--config", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)
	require.True(t, strings.HasPrefix(lines[0], "FINISHED"))
	require.Contains(t, out, "boom")

	out, err = executeCommand(t, "history", "--config", cfgPath, "--state", "failed")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestRun_NothingToRun(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	_, err := executeCommand(t, "run", "--config", cfgPath)
	require.ErrorContains(t, err, "nothing to run")
}

func TestRun_UnknownKind(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	_, err := executeCommand(t, "run", "--config", cfgPath, "--task", "teleport")
	require.ErrorIs(t, err, task.ErrUnknownKind)
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath := writeTestConfig(t, "isolation: thread\n")
	_, err := executeCommand(t, "run", "--config", cfgPath, "--task", "sleep")
	require.ErrorContains(t, err, "invalid configuration")
}

func TestInitConfig(t *testing.T) {
	cfgPath := writeTestConfig(t, "")
	target := filepath.Join(t.TempDir(), "new", "config.yaml")

	out, err := executeCommand(t, "init-config", "--config", cfgPath, target)
	require.NoError(t, err)
	require.Contains(t, out, "wrote "+target)

	_, err = executeCommand(t, "init-config", "--config", cfgPath, target)
	require.ErrorContains(t, err, "already exists")

	_, err = executeCommand(t, "init-config", "--config", cfgPath, "--force", target)
	require.NoError(t, err)
}

func TestFlagsSet(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := executeCommand(t, "flags", "set", "--config", cfgPath, "lifo-admission", "true")
	require.NoError(t, err)
	require.Contains(t, out, "lifo-admission=true")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "lifo-admission: true")
	require.Contains(t, string(data), "ceiling: 2", "other keys survive")

	out, err = executeCommand(t, "flags", "--config", cfgPath)
	require.NoError(t, err)
	require.Regexp(t, `lifo-admission\s+on`, out)
	require.Regexp(t, `dashboard-logs\s+off`, out)

	_, err = executeCommand(t, "flags", "set", "--config", cfgPath, "warp-drive", "true")
	require.ErrorContains(t, err, "unknown flag")
}

func TestPrintHistory(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	printHistory(&buf, []manager.Outcome{{
		TaskID:     "0190abcd-0000-7000-8000-00000000beef",
		Kind:       "a-very-long-kind-name",
		State:      manager.StateFailed,
		Reason:     "line one\nline two",
		AdmittedAt: now.Add(-3 * time.Second),
		StartedAt:  now.Add(-2 * time.Second),
		FinishedAt: now,
	}})

	out := buf.String()
	require.Contains(t, out, "0000beef")
	require.Contains(t, out, "a-very-lo…")
	require.Contains(t, out, "line one line two")
	require.Contains(t, out, "2s")

	buf.Reset()
	printHistory(&buf, nil)
	require.Equal(t, "no runs recorded\n", buf.String())
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	printOutcome(&buf, manager.Outcome{
		TaskID: "t-1", Kind: "shell", State: manager.StateCompleted,
		Params: map[string]string{"command": "ls", "b": "2"},
	})
	out := buf.String()
	require.Contains(t, out, "kind:      shell")
	require.Less(t, strings.Index(out, "b=2"), strings.Index(out, "command=ls"))
	require.NotContains(t, out, "started:")
}
