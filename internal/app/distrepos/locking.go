package distrepos

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	ffs "github.com/osg-htc/distrepos/pkg/fs"
)

// ErrLockHeld is the error reported when a named lock is held by another run.
var ErrLockHeld = errors.New("another run in progress")

// Lock is an exclusive advisory lock on a file.
type Lock struct {
	flock *flock.Flock
}

// AcquireLock creates the lock file at the path (and its parent directory) if needed and tries to
// lock it without blocking. If another holder has the lock, the returned Lock and error are both
// nil.
func AcquireLock(lockPath string) (*Lock, error) {
	if err := ffs.EnsureParentExists(lockPath); err != nil {
		return nil, errors.Wrapf(err, "couldn't make directory for lockfile %s", lockPath)
	}
	f := flock.New(lockPath)
	locked, err := f.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't lock %s", lockPath)
	}
	if !locked {
		return nil, nil
	}
	return &Lock{flock: f}, nil
}

// Path returns the path of the lock file.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.flock.Path()
}

// Release unlocks the lock and removes its lock file. Releasing a nil Lock does nothing.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.flock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = l.flock.Unlock()
		return errors.Wrapf(err, "couldn't remove lockfile %s", l.flock.Path())
	}
	if err := l.flock.Unlock(); err != nil {
		return errors.Wrapf(err, "couldn't unlock %s", l.flock.Path())
	}
	return nil
}

// WithLock runs fn while holding the lock of the provided name in lockDir, releasing the lock
// however fn finishes. If the lock is held by someone else, fn isn't run and an error wrapping
// ErrLockHeld is returned. If lockDir is empty, fn is run without locking.
func WithLock(lockDir, name string, log *logrus.Entry, fn func() error) (err error) {
	if lockDir == "" {
		return fn()
	}
	lockPath := filepath.Join(lockDir, name)
	lock, err := AcquireLock(lockPath)
	if err != nil {
		return err
	}
	if lock == nil {
		return errors.Wrapf(ErrLockHeld, "unable to lock file %s", lockPath)
	}
	log.Debugf("acquired lock %s", lockPath)
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			log.Warnf("error releasing lock %s: %s", lockPath, rerr)
		}
	}()
	return fn()
}
