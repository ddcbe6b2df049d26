package gitcache

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/aig787/agpm-sub009/pkg/logger"
)

var execLog = logger.New("gitcache:exec")

// invocationFloor is the minimum number of concurrent git invocations
// allowed even on a single-CPU machine.
const invocationFloor = 4

// globalSemaphore bounds concurrent git subprocess invocations across the
// whole process to max(3*NumCPU, invocationFloor), the mechanism that
// prevents a single large resolution from starting a Git storm (spec.md
// §4.4).
var globalSemaphore = semaphore.NewWeighted(int64(invocationWeight()))

func invocationWeight() int {
	n := 3 * runtime.NumCPU()
	if n < invocationFloor {
		return invocationFloor
	}
	return n
}

// Executor runs git subprocesses against a fixed repository directory,
// bounded by the process-wide semaphore. Modeled on
// vjache-cie's GitExecutor: CommandContext, separate stdout/stderr capture,
// stderr surfaced in the error.
type Executor struct {
	repoDir string
}

// NewExecutor creates an Executor rooted at repoDir (a bare clone or
// worktree directory; "" means the command carries its own -C/--git-dir
// arguments, used for top-level clone invocations before a directory exists).
func NewExecutor(repoDir string) *Executor {
	return &Executor{repoDir: repoDir}
}

// Run executes "git <args...>", bounded by the global semaphore and ctx.
func (e *Executor) Run(ctx context.Context, args ...string) (string, error) {
	if err := globalSemaphore.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("gitcache: acquire git invocation slot: %w", err)
	}
	defer globalSemaphore.Release(1)

	cmd := exec.CommandContext(ctx, "git", args...)
	if e.repoDir != "" {
		cmd.Dir = e.repoDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	execLog.Printf("git %s (dir=%s)", strings.Join(args, " "), e.repoDir)
	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("gitcache: git %s timed out or canceled: %w", args[0], ctx.Err())
		}
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", fmt.Errorf("gitcache: git %s failed: %s", args[0], stderrStr)
		}
		return "", fmt.Errorf("gitcache: git %s failed: %w", args[0], err)
	}
	return stdout.String(), nil
}
