// Package lockedfile provides advisory, inter-process file locks.
//
// The build pipeline uses them to keep a single writer per downloaded
// archive and per dependency, so that two depbuild processes working on the
// same tree never interleave their writes.
package lockedfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// A Mutex is an exclusive lock held on a file path.
type Mutex struct {
	path string
}

// MutexAt returns a Mutex backed by the file at path. The file is created
// on the first Lock and is never removed.
func MutexAt(path string) *Mutex {
	return &Mutex{path: path}
}

func (mu *Mutex) String() string {
	return fmt.Sprintf("lockedfile.Mutex(%s)", mu.path)
}

// Lock blocks until the lock is acquired and returns the function that
// releases it.
func (mu *Mutex) Lock() (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(mu.path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(mu.path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	if err := flock(f, unix.LOCK_EX); err != nil {
		f.Close()
		return nil, &os.PathError{Op: "flock", Path: mu.path, Err: err}
	}
	return func() {
		_ = flock(f, unix.LOCK_UN)
		f.Close()
	}, nil
}

// TryLock acquires the lock without blocking. It reports false, with a nil
// error, when another holder owns it.
func (mu *Mutex) TryLock() (unlock func(), ok bool, err error) {
	if err := os.MkdirAll(filepath.Dir(mu.path), 0o755); err != nil {
		return nil, false, err
	}
	f, err := os.OpenFile(mu.path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, false, err
	}
	if err := flock(f, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, &os.PathError{Op: "flock", Path: mu.path, Err: err}
	}
	return func() {
		_ = flock(f, unix.LOCK_UN)
		f.Close()
	}, true, nil
}

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}
