// Package lock keeps a second 'proxymon serve' off a sample store that is
// already being collected into.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rileyhilliard/proxymon/internal/errors"
)

const (
	infoFileName = "info.json"
	// unreadableGrace is how long a lock without a readable info file is
	// assumed to be mid-acquire rather than abandoned.
	unreadableGrace = time.Minute
)

// Lock is an acquired instance lock.
type Lock struct {
	Dir  string
	Info *Info
}

// DirFor returns the lock directory for a store path.
func DirFor(storePath string) string {
	return storePath + ".lock"
}

// Acquire takes the instance lock for storePath. The lock is a directory
// next to the store and mkdir is the atomic primitive. A lock left behind by
// a dead process on this host is removed and taken over; a live holder
// yields a CONFLICT error naming it.
func Acquire(storePath, command string) (*Lock, error) {
	dir := DirFor(storePath)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrPersist,
			"Can't create "+filepath.Dir(dir), "Check directory permissions")
	}
	info := NewInfo(command)

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			if err := writeInfo(dir, info); err != nil {
				_ = os.RemoveAll(dir)
				return nil, err
			}
			return &Lock{Dir: dir, Info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrPersist,
				"Failed to create lock "+dir, "Check directory permissions")
		}

		if !isStale(dir) {
			break
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrPersist,
				"Failed to remove stale lock "+dir, "Remove it by hand")
		}
	}

	return nil, errors.New(errors.ErrConflict,
		fmt.Sprintf("%s is already in use by %s", storePath, Holder(dir)),
		fmt.Sprintf("Stop the other proxymon serve, or remove %s if it crashed", dir))
}

// Release removes the lock.
func (l *Lock) Release() error {
	if l == nil || l.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.Dir); err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist, "Failed to remove lock "+l.Dir, "")
	}
	return nil
}

// Holder describes who holds the lock in dir.
func Holder(dir string) string {
	info, err := readInfo(dir)
	if err != nil {
		return "an unknown process"
	}
	return info.String()
}

// isStale reports whether the lock in dir was abandoned: its holder ran on
// this host and is gone, or it never got an info file.
func isStale(dir string) bool {
	info, err := readInfo(dir)
	if err != nil {
		st, statErr := os.Stat(dir)
		return statErr == nil && time.Since(st.ModTime()) > unreadableGrace
	}
	hostname, _ := os.Hostname()
	if info.Hostname != hostname {
		return false
	}
	return !processAlive(info.PID)
}

func writeInfo(dir string, info *Info) error {
	data, err := info.Marshal()
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist, "Failed to encode lock info", "")
	}
	if err := os.WriteFile(filepath.Join(dir, infoFileName), data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrPersist,
			"Failed to write lock info", "Check disk space and permissions")
	}
	return nil
}

func readInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if err != nil {
		return nil, err
	}
	return ParseInfo(data)
}
