package tactile

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func newTestExecutor() *DirectExecutor {
	return NewDirectExecutor(DefaultExecutorConfig(), nil)
}

func TestDirectExecutor_Execute(t *testing.T) {
	skipOnWindows(t)
	result, err := newTestExecutor().Execute(context.Background(), Command{
		Binary:    "echo",
		Arguments: []string{"hello"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.False(t, result.IsNonZeroExit())
	assert.Contains(t, result.Output(), "hello")
}

func TestDirectExecutor_Timeout(t *testing.T) {
	skipOnWindows(t)
	defer goleak.VerifyNone(t)

	start := time.Now()
	result, err := newTestExecutor().Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Limits:    &ResourceLimits{TimeoutMs: 300},
	})
	require.NoError(t, err)
	assert.True(t, result.Killed)
	assert.Contains(t, result.KillReason, "timeout")
	assert.False(t, result.IsNonZeroExit())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDirectExecutor_Cancel(t *testing.T) {
	skipOnWindows(t)
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	result, err := newTestExecutor().Execute(ctx, Command{
		Binary:    "sh",
		Arguments: []string{"-c", "sleep 10; echo done"},
	})
	require.NoError(t, err)
	assert.True(t, result.Killed)
	assert.Equal(t, "context canceled", result.KillReason)
	assert.NotContains(t, result.Stdout, "done")
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	result, err := newTestExecutor().Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo boom >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
	assert.True(t, result.IsNonZeroExit())
	assert.Contains(t, result.Stderr, "boom")
}

func TestDirectExecutor_InvalidCommand(t *testing.T) {
	exec := newTestExecutor()

	_, err := exec.Execute(context.Background(), Command{})
	require.Error(t, err)

	result, err := exec.Execute(context.Background(), Command{Binary: "usagesynth-no-such-binary"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.IsError())
	assert.NotEmpty(t, result.Error)
}

func TestDirectExecutor_TruncatesOutput(t *testing.T) {
	skipOnWindows(t)
	result, err := newTestExecutor().Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "printf '0123456789abcdef'"},
		Limits:    &ResourceLimits{MaxOutputBytes: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "0123456789", result.Stdout)
	assert.True(t, result.Truncated)
	assert.Equal(t, int64(6), result.TruncatedBytes)
}

func TestDirectExecutor_WorkingDirectoryAndEnv(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	result, err := newTestExecutor().Execute(context.Background(), Command{
		Binary:           "sh",
		Arguments:        []string{"-c", "pwd; echo $USAGESYNTH_TEST"},
		WorkingDirectory: dir,
		Environment:      []string{"USAGESYNTH_TEST=xyz"},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], dir[strings.LastIndex(dir, "/"):]))
	assert.Equal(t, "xyz", lines[1])
}

func TestExecutorConfig_Merge(t *testing.T) {
	cfg := DefaultExecutorConfig()
	cfg.MaxTimeout = time.Second

	merged := cfg.Merge(Command{Binary: "x"})
	require.NotNil(t, merged.Limits)
	assert.Equal(t, int64(1000), merged.Limits.TimeoutMs)
	assert.Equal(t, cfg.MaxOutputBytes, merged.Limits.MaxOutputBytes)
	assert.Equal(t, ".", merged.WorkingDirectory)

	orig := Command{Binary: "x", WorkingDirectory: "/tmp", Limits: &ResourceLimits{TimeoutMs: 50, MaxOutputBytes: 7}}
	merged = cfg.Merge(orig)
	assert.Equal(t, int64(50), merged.Limits.TimeoutMs)
	assert.Equal(t, int64(7), merged.Limits.MaxOutputBytes)
	assert.Equal(t, "/tmp", merged.WorkingDirectory)
	assert.NotSame(t, orig.Limits, merged.Limits)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 4}
	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = lw.Write([]byte("def"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	n, err = lw.Write([]byte("gh"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, "abcd", buf.String())
	assert.True(t, lw.truncated)
	assert.Equal(t, int64(4), lw.discarded)
}
