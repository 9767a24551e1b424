package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// LockInfo is the contents of the lock file (spec.md §4.7, §6).
type LockInfo struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
	Token      string    `json:"token"` // opaque acquisition identifier, recorded in the lock file for diagnostics
}

// AcquireOptions controls lock acquisition (spec.md §4.5 step 1).
type AcquireOptions struct {
	// StaleAfter is the age beyond which an existing lock file is
	// considered abandoned and may be broken.
	StaleAfter time.Duration
	// Force breaks any existing lock regardless of age.
	Force bool
	// Now is the acquisition clock; defaults to time.Now if zero.
	Now time.Time
	// Hostname overrides os.Hostname for tests.
	Hostname string
}

// Lock represents a held workspace lock; call Release on clean exit.
type Lock struct {
	store *Store
	info  LockInfo
}

// AcquireLock creates the lock file exclusively. If it exists and its age
// exceeds StaleAfter, or Force is set, the stale lock is broken and
// acquisition retried once; otherwise ErrLockHeld is returned
// (spec.md §4.5 step 1, §4.7).
func (s *Store) AcquireLock(opts AcquireOptions) (*Lock, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	host := opts.Hostname
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		}
	}

	info := LockInfo{
		PID:        os.Getpid(),
		Host:       host,
		AcquiredAt: now,
		Token:      uuid.NewString(),
	}

	if err := s.createLockFile(info); err == nil {
		return &Lock{store: s, info: info}, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("create lock file: %w", err)
	}

	existing, readErr := s.readLockFile()
	if readErr != nil {
		// Lock file exists but is unreadable/corrupt; treat as stale so a
		// wedged run does not block forever on a damaged lock file.
		if err := s.breakLock(); err != nil {
			return nil, err
		}
		if err := s.createLockFile(info); err != nil {
			return nil, fmt.Errorf("create lock file after breaking corrupt lock: %w", err)
		}
		return &Lock{store: s, info: info}, nil
	}

	stale := opts.StaleAfter > 0 && now.Sub(existing.AcquiredAt) > opts.StaleAfter
	if !opts.Force && !stale {
		return nil, errLockHeld
	}

	if err := s.breakLock(); err != nil {
		return nil, err
	}
	if err := s.createLockFile(info); err != nil {
		return nil, fmt.Errorf("create lock file after breaking stale lock: %w", err)
	}
	return &Lock{store: s, info: info}, nil
}

func (s *Store) createLockFile(info LockInfo) error {
	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := json.NewEncoder(f)
	if err := enc.Encode(info); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Store) readLockFile() (LockInfo, error) {
	data, err := os.ReadFile(s.lockPath())
	if err != nil {
		return LockInfo{}, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return LockInfo{}, err
	}
	return info, nil
}

func (s *Store) breakLock() error {
	if err := os.Remove(s.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("break stale lock: %w", err)
	}
	return nil
}

// Release removes the lock file on clean exit (spec.md §4.7).
func (l *Lock) Release() error {
	if err := os.Remove(l.store.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
