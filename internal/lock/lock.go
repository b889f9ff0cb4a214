// Package lock keeps one daemon per session. The lock file also records
// where the holder listens so clients of the session can find it.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Holder is the record the owning process writes into the lock file.
type Holder struct {
	PID   int       `json:"pid"`
	Since time.Time `json:"since"`
	Addr  string    `json:"addr,omitempty"`
}

// LockHeldError is returned by Acquire when another process owns the lock.
type LockHeldError struct {
	Holder
	Path string
}

func (e *LockHeldError) Error() string {
	msg := fmt.Sprintf("session lock %s held by PID %d", e.Path, e.PID)
	if e.Addr != "" {
		msg += " serving " + e.Addr
	}
	return msg
}

// ErrNotHeld is returned by Inspect when no process holds the lock.
var ErrNotHeld = errors.New("lock: not held")

// Lock is an acquired session lock.
type Lock struct {
	f      *os.File
	holder Holder
}

// Acquire takes the flock on path without waiting and writes the caller's
// Holder record.
func Acquire(path, addr string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if !tryLock(f) {
		h, _ := readHolder(path)
		_ = f.Close()
		return nil, &LockHeldError{Holder: h, Path: path}
	}

	l := &Lock{f: f, holder: Holder{PID: os.Getpid(), Since: time.Now().UTC().Truncate(time.Second), Addr: addr}}
	if err := l.write(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock: %w", err)
	}
	return l, nil
}

func (l *Lock) write() error {
	data, err := json.Marshal(l.holder)
	if err != nil {
		return err
	}
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	_, err = l.f.WriteAt(append(data, '\n'), 0)
	return err
}

// Holder returns the record written by Acquire.
func (l *Lock) Holder() Holder { return l.holder }

// Inspect reports who holds path without keeping the lock.
func Inspect(path string) (Holder, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if errors.Is(err, os.ErrNotExist) {
		return Holder{}, ErrNotHeld
	}
	if err != nil {
		return Holder{}, err
	}
	defer func() { _ = f.Close() }()

	if tryLock(f) {
		// A leftover file from a process that died.
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, ErrNotHeld
	}
	return readHolder(path)
}

// Release removes the lock file and drops the flock. It is safe to call
// more than once and on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = os.Remove(l.f.Name())
	err := l.f.Close()
	l.f = nil
	return err
}

func tryLock(f *os.File) bool {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) == nil
}

func readHolder(path string) (Holder, error) {
	var h Holder
	data, err := os.ReadFile(path)
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("lock %s: %w", path, err)
	}
	return h, nil
}
