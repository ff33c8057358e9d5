// Package tactile runs external processes: the evaluation engine and the
// fact extractor. It is the only package that touches os/exec.
//
// Every execution is bounded by a timeout, captures at most a configured
// number of output bytes, and kills the whole process group when the
// context is canceled so that no engine subprocess outlives its run.
package tactile

import (
	"strings"
	"time"
)

// Command is one process invocation.
type Command struct {
	// Binary is the executable to run (e.g., "souffle").
	Binary string `json:"binary"`

	// Arguments are the command-line arguments.
	Arguments []string `json:"arguments"`

	// WorkingDirectory is the directory to execute in.
	// If empty, uses the executor's default working directory.
	WorkingDirectory string `json:"working_directory,omitempty"`

	// Environment variables to set (in KEY=VALUE format), added to the
	// executor's allowed environment.
	Environment []string `json:"environment,omitempty"`

	// Stdin provides input to the command's standard input.
	Stdin string `json:"stdin,omitempty"`

	// Limits overrides the executor defaults.
	Limits *ResourceLimits `json:"limits,omitempty"`

	// Tags label the execution in logs (candidate, sample, ...).
	Tags map[string]string `json:"tags,omitempty"`
}

// CommandString returns the full command line for display.
func (c Command) CommandString() string {
	if len(c.Arguments) == 0 {
		return c.Binary
	}
	return c.Binary + " " + strings.Join(c.Arguments, " ")
}

// ResourceLimits constrains one execution.
type ResourceLimits struct {
	// TimeoutMs is the maximum wall time in milliseconds.
	// Zero means use the executor's default timeout.
	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	// MaxOutputBytes limits captured stdout and stderr, each.
	// Zero means use the executor's default.
	MaxOutputBytes int64 `json:"max_output_bytes,omitempty"`
}

// ExecutionResult is the outcome of one execution.
type ExecutionResult struct {
	// Success indicates the process ran. A process that exits non-zero or
	// is killed still has Success=true; Success=false means it could not
	// be started.
	Success bool `json:"success"`

	// ExitCode is the process exit code (-1 if not available).
	ExitCode int `json:"exit_code"`

	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Combined string `json:"combined"`

	Duration   time.Duration `json:"duration"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`

	// Killed indicates the process was terminated by timeout or
	// cancellation.
	Killed     bool   `json:"killed"`
	KillReason string `json:"kill_reason,omitempty"`

	Truncated      bool  `json:"truncated"`
	TruncatedBytes int64 `json:"truncated_bytes,omitempty"`

	// ResourceUsage is nil where the platform does not report it.
	ResourceUsage *ResourceUsage `json:"resource_usage,omitempty"`

	// Error is the start failure, if any.
	Error string `json:"error,omitempty"`
}

// IsError reports whether the process could not be run.
func (r *ExecutionResult) IsError() bool {
	return !r.Success || r.Error != ""
}

// IsNonZeroExit reports whether the process ran and exited non-zero.
func (r *ExecutionResult) IsNonZeroExit() bool {
	return r.Success && !r.Killed && r.ExitCode != 0
}

// Output returns Combined if available, otherwise Stdout+Stderr.
func (r *ExecutionResult) Output() string {
	if r.Combined != "" {
		return r.Combined
	}
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// ResourceUsage contains metrics about resource consumption.
type ResourceUsage struct {
	UserTimeMs   int64 `json:"user_time_ms"`
	SystemTimeMs int64 `json:"system_time_ms"`
	MaxRSSBytes  int64 `json:"max_rss_bytes"`
}

// TotalCPUTimeMs returns total CPU time (user + system).
func (r *ResourceUsage) TotalCPUTimeMs() int64 {
	return r.UserTimeMs + r.SystemTimeMs
}

// ExecutorConfig is the configuration for creating executors.
type ExecutorConfig struct {
	// DefaultWorkingDir is used when Command.WorkingDirectory is empty.
	DefaultWorkingDir string `yaml:"default_working_dir"`

	// DefaultTimeout is used when no timeout is specified.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTimeout caps all timeout values.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// AllowedEnvironment lists environment variables to pass through.
	AllowedEnvironment []string `yaml:"allowed_environment"`

	// MaxOutputBytes caps output capture.
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	// EnableResourceUsage enables collection of resource metrics.
	EnableResourceUsage bool `yaml:"enable_resource_usage"`
}

// DefaultExecutorConfig returns the defaults used for engine runs.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		DefaultWorkingDir:   ".",
		DefaultTimeout:      5 * time.Minute,
		MaxTimeout:          time.Hour,
		MaxOutputBytes:      1024 * 1024,
		AllowedEnvironment:  []string{"PATH", "HOME", "USER", "LANG", "LC_ALL", "TMPDIR", "LD_LIBRARY_PATH"},
		EnableResourceUsage: true,
	}
}

// Merge applies config defaults to cmd. cmd's own settings win; the
// timeout is capped at MaxTimeout. cmd is not modified.
func (c ExecutorConfig) Merge(cmd Command) Command {
	result := cmd
	if result.WorkingDirectory == "" {
		result.WorkingDirectory = c.DefaultWorkingDir
	}

	limits := ResourceLimits{}
	if cmd.Limits != nil {
		limits = *cmd.Limits
	}
	if limits.TimeoutMs == 0 {
		limits.TimeoutMs = int64(c.DefaultTimeout / time.Millisecond)
	}
	if limits.MaxOutputBytes == 0 {
		limits.MaxOutputBytes = c.MaxOutputBytes
	}
	if c.MaxTimeout > 0 {
		maxMs := int64(c.MaxTimeout / time.Millisecond)
		if limits.TimeoutMs > maxMs {
			limits.TimeoutMs = maxMs
		}
	}
	result.Limits = &limits
	return result
}
