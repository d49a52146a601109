package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sheetarchiver/domain/core"
)

// Lock is an exclusive lock file named after the resource's lock key. A lock
// file older than Stale is assumed to belong to a crashed run and is taken over.
type Lock struct {
	Path  string
	Stale time.Duration

	now        func() time.Time
	beforeTake func() // runs between the staleness check and the takeover
	token      string
}

// DefaultStale bounds how long a crashed run can block the next one.
const DefaultStale = 6 * time.Hour

// New creates a lock for resource inside dir.
func New(dir, resource string) *Lock {
	name := fmt.Sprintf("sheetarchiver-%x.lock", uint64(core.LockKey(resource)))
	return &Lock{Path: filepath.Join(dir, name), Stale: DefaultStale, now: time.Now}
}

// TryAcquire creates the lock file, failing with core.ErrRunInProgress when it exists.
func (l *Lock) TryAcquire(_ context.Context) (func(), error) {
	if err := l.create(); err == nil {
		return l.release, nil
	} else if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	if !l.stale(l.Path) {
		return nil, l.inProgress()
	}
	if l.beforeTake != nil {
		l.beforeTake()
	}
	if err := l.takeOver(); err != nil {
		return nil, err
	}
	if err := l.create(); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, l.inProgress()
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	return l.release, nil
}

// takeOver moves the lock file aside under a name only this process uses, so
// two runs that both judged it stale cannot delete each other's fresh lock.
// If what was moved turns out to be fresh, it is put back.
func (l *Lock) takeOver() error {
	claimed := fmt.Sprintf("%s.%d-%d.stale", l.Path, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(l.Path, claimed); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to move stale lock file: %w", err)
	}
	if l.stale(claimed) {
		_ = os.Remove(claimed)
		return nil
	}
	// A fresh lock was moved; Link fails if yet another run created one meanwhile.
	_ = os.Link(claimed, l.Path)
	_ = os.Remove(claimed)
	return l.inProgress()
}

func (l *Lock) inProgress() error {
	return fmt.Errorf("%w: %s", core.ErrRunInProgress, l.Path)
}

func (l *Lock) create() error {
	f, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	token := fmt.Sprintf("%d %d %d", os.Getpid(), l.clock().Unix(), time.Now().UnixNano())
	if _, err := fmt.Fprintln(f, token); err != nil {
		return err
	}
	l.token = token
	return nil
}

// stale reads the creation time written into the lock file at path
func (l *Lock) stale(path string) bool {
	if l.Stale <= 0 {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return false
	}
	created, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return false
	}
	return l.clock().Sub(time.Unix(created, 0)) > l.Stale
}

// release removes the lock file unless another run has since taken it over.
func (l *Lock) release() {
	data, err := os.ReadFile(l.Path)
	if err != nil || strings.TrimSpace(string(data)) != l.token {
		return
	}
	_ = os.Remove(l.Path)
}

func (l *Lock) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
