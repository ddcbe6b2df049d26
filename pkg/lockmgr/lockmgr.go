// Package lockmgr is the cross-process lock manager (C3): one advisory file
// lock per repository URL, guarding clone/fetch/worktree mutations without
// blocking concurrent reads of an already-materialized worktree. It also
// exposes in-process coordination so cooperating goroutines serialize on a
// (URL, commit) pair without contending on the file lock itself.
package lockmgr

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/aig787/agpm-sub009/pkg/agpmenv"
	"github.com/aig787/agpm-sub009/pkg/logger"
	"github.com/aig787/agpm-sub009/pkg/pathutil"
)

var lockLog = logger.New("lockmgr")

// DefaultTimeout is the default wait for acquiring a repository lock.
const DefaultTimeout = 30 * time.Second

// TestModeTimeout is used instead of DefaultTimeout when AGPM_TEST_MODE is set.
const TestModeTimeout = 2 * time.Second

// pollInterval is the base backoff between lock-acquisition polls, doubling
// up to a small ceiling the way the teacher's rate limiter backs off retries
// (pkg/ratelimit's Backoff), but bounded much tighter since this guards a
// local file rather than a remote API.
const (
	pollInitial = 20 * time.Millisecond
	pollMax     = 500 * time.Millisecond
)

// HolderID is a per-process identity token written into nothing persistent
// today but available for lock-contention diagnostics (e.g. a future
// "who holds this lock" message); generated once per process.
var HolderID = uuid.New().String()

// Manager owns one file lock per repository URL plus an in-process
// coordinator that coalesces concurrent same-key requests.
type Manager struct {
	dir     string
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]*flock.Flock

	coordMu sync.Mutex
	inFlt   map[string]*inFlightCall
}

type inFlightCall struct {
	done chan struct{}
	val  any
	err  error
}

// New creates a Manager whose lock files live under dir (typically
// "<cache root>/locks"). The timeout is DefaultTimeout, or TestModeTimeout
// if agpmenv.TestMode is set.
func New(dir string) *Manager {
	timeout := DefaultTimeout
	if agpmenv.TestMode {
		timeout = TestModeTimeout
	}
	return &Manager{
		dir:     dir,
		timeout: timeout,
		locks:   make(map[string]*flock.Flock),
		inFlt:   make(map[string]*inFlightCall),
	}
}

func (m *Manager) lockPath(url string) string {
	return filepath.Join(m.dir, pathutil.CacheKey(url)+".lock")
}

func (m *Manager) flockFor(url string) *flock.Flock {
	m.mu.Lock()
	defer m.mu.Unlock()
	fl, ok := m.locks[url]
	if !ok {
		fl = flock.New(m.lockPath(url))
		m.locks[url] = fl
	}
	return fl
}

// Release unlocks the advisory lock previously returned by Acquire.
type Release func()

// Acquire blocks (polling with capped exponential backoff) until the
// repository lock for url is held or ctx/timeout expires. The returned
// Release must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, url string) (Release, error) {
	// A fresh Flock per call: a shared one reports "already locked" to every
	// goroutine, so same-process callers would not serialize.
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockmgr: create lock dir: %w", err)
	}
	fl := flock.New(m.lockPath(url))

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	wait := pollInitial
	for attempt := 0; ; attempt++ {
		locked, err := fl.TryLockContext(ctx, wait)
		if err != nil {
			return nil, fmt.Errorf("lockmgr: acquire lock for %s: %w", url, err)
		}
		if locked {
			lockLog.Printf("acquired repository lock: url=%s holder=%s attempts=%d", url, HolderID, attempt+1)
			return func() {
				if err := fl.Unlock(); err != nil {
					lockLog.Printf("release repository lock failed: url=%s err=%v", url, err)
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lockmgr: timed out acquiring lock for %s after %s: %w", url, m.timeout, ctx.Err())
		default:
		}
		wait = time.Duration(math.Min(float64(pollMax), float64(wait)*2))
	}
}

// Coalesce ensures that concurrent calls sharing the same key run fn at most
// once; later callers block on the first call's result. This is the
// in-process coordination that makes repeated get_worktree(url, sha) calls
// for the same pair collapse to a single Git invocation (spec.md §4.4).
func (m *Manager) Coalesce(key string, fn func() (any, error)) (any, error) {
	m.coordMu.Lock()
	if call, ok := m.inFlt[key]; ok {
		m.coordMu.Unlock()
		<-call.done
		return call.val, call.err
	}

	call := &inFlightCall{done: make(chan struct{})}
	m.inFlt[key] = call
	m.coordMu.Unlock()

	call.val, call.err = fn()
	close(call.done)

	m.coordMu.Lock()
	delete(m.inFlt, key)
	m.coordMu.Unlock()

	return call.val, call.err
}
