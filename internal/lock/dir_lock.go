package lock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

const ownerFileName = "owner"

// Owner describes the holder recorded inside a lock directory.
type Owner struct {
	Token string
	PID   int
}

// DirLock uses atomic directory creation as the lock marker. The directory holds
// an owner file naming the token and pid of the holder.
type DirLock struct {
	dir    string
	token  string
	logger *slog.Logger

	mu   sync.Mutex
	held bool
}

var _ Lock = (*DirLock)(nil)

func NewDirLock(dir string, logger *slog.Logger) *DirLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirLock{
		dir:    dir,
		token:  uuid.NewString(),
		logger: logger,
	}
}

// Dir returns the lock directory path.
func (l *DirLock) Dir() string { return l.dir }

// Token returns the owner token this handle writes on acquisition.
func (l *DirLock) Token() string { return l.token }

func (l *DirLock) Acquire(ctx context.Context, opts AcquireOptions) (bool, error) {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	start := time.Now()
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
	}

	for {
		ok, err := l.tryAcquire()
		if err != nil || ok {
			if ok {
				l.logger.Debug("accelerator lock acquired", "dir", l.dir, "waited_ms", time.Since(start).Milliseconds())
			}
			return ok, err
		}
		if !opts.Blocking {
			return false, nil
		}

		wait := poll
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				l.logger.Debug("accelerator lock timed out", "dir", l.dir, "timeout", opts.Timeout)
				return false, nil
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *DirLock) tryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.dir), 0o755); err != nil {
		return false, fmt.Errorf("create lock parent: %w", err)
	}
	if err := os.Mkdir(l.dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock dir: %w", err)
	}

	l.mu.Lock()
	l.held = true
	l.mu.Unlock()

	// The directory alone is the lock; the owner file is for diagnostics and Release.
	body := fmt.Sprintf("%s\n%d\n", l.token, os.Getpid())
	if err := os.WriteFile(filepath.Join(l.dir, ownerFileName), []byte(body), 0o644); err != nil {
		l.logger.Warn("could not write lock owner file", "dir", l.dir, "error", err)
	}
	return true, nil
}

func (l *DirLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	l.held = false

	owner, err := ReadOwner(l.dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil // removed externally
	case err == nil && owner.Token != "" && owner.Token != l.token:
		l.logger.Warn("accelerator lock now held by another owner, leaving it", "dir", l.dir, "owner_pid", owner.PID)
		return nil
	}

	if err := os.Remove(filepath.Join(l.dir, ownerFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("could not remove lock owner file", "dir", l.dir, "error", err)
	}
	if err := os.Remove(l.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock dir: %w", err)
	}
	l.logger.Debug("accelerator lock released", "dir", l.dir)
	return nil
}

// ReadOwner returns the owner recorded in a lock directory.
// It returns fs.ErrNotExist when the lock is not held.
func ReadOwner(dir string) (Owner, error) {
	if _, err := os.Stat(dir); err != nil {
		return Owner{}, err
	}
	f, err := os.Open(filepath.Join(dir, ownerFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Owner{}, nil // held, owner not yet written
	}
	if err != nil {
		return Owner{}, err
	}
	defer f.Close()

	var owner Owner
	sc := bufio.NewScanner(f)
	if sc.Scan() {
		owner.Token = strings.TrimSpace(sc.Text())
	}
	if sc.Scan() {
		owner.PID, _ = strconv.Atoi(strings.TrimSpace(sc.Text()))
	}
	return owner, sc.Err()
}

// Holder reports who currently holds the lock directory, if anyone.
func (l *DirLock) Holder() (Owner, bool, error) {
	owner, err := ReadOwner(l.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Owner{}, false, nil
	}
	if err != nil {
		return Owner{}, false, err
	}
	return owner, true, nil
}

// Break removes a lock directory regardless of owner. Operators use it to clear a
// lock left behind by a crashed process. A directory holding anything besides the
// owner file is not a lock and is left alone.
func Break(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("break lock: %w", err)
	}
	for _, e := range entries {
		if e.Name() != ownerFileName || e.IsDir() {
			return common.NewAppError("INVALID_LOCK_DIR",
				fmt.Sprintf("%s holds %q and is not a lock directory", dir, e.Name()), common.ErrInvalidInput)
		}
	}
	if err := os.Remove(filepath.Join(dir, ownerFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("break lock: %w", err)
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("break lock: %w", err)
	}
	return nil
}
