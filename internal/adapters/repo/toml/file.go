package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	stateFileMode  = 0o600
	stateDirMode   = 0o700
	lockRetryDelay = 10 * time.Millisecond
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*pathLocks{}
)

type pathLocks struct {
	rw    sync.RWMutex
	guard chan struct{}
}

// stateFile is one TOML document replaced atomically on every write.
// mu orders readers and writers inside the process; lock extends writer
// exclusion to every process sharing the path.
type stateFile struct {
	path  string
	label string
	mu    *sync.RWMutex
	guard chan struct{}
}

func newStateFile(path string, label string) (stateFile, error) {
	if path == "" {
		return stateFile{}, fmt.Errorf("%s path is empty", label)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return stateFile{}, fmt.Errorf("resolve %s path: %w", label, err)
	}
	absPath = filepath.Clean(absPath)

	locks := locksForPath(absPath)
	return stateFile{path: absPath, label: label, mu: &locks.rw, guard: locks.guard}, nil
}

// lock takes the sibling .lock file exclusively, waiting until ctx is done.
// It is not reentrant.
func (f stateFile) lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), stateDirMode); err != nil {
		return nil, fmt.Errorf("create %s directory: %w", f.label, err)
	}

	select {
	case f.guard <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s file: %w", f.label, ctx.Err())
	}

	fileLock := flock.New(f.path + ".lock")
	locked, err := fileLock.TryLockContext(ctx, lockRetryDelay)
	if err == nil && !locked {
		err = ctx.Err()
	}
	if err != nil {
		<-f.guard
		return nil, fmt.Errorf("lock %s file: %w", f.label, err)
	}

	return func() error {
		defer func() { <-f.guard }()
		if err := fileLock.Unlock(); err != nil {
			return fmt.Errorf("unlock %s file: %w", f.label, err)
		}
		return nil
	}, nil
}

// exclusive runs fn holding both the process-wide lock and mu.
func (f stateFile) exclusive(ctx context.Context, fn func() error) (err error) {
	unlock, err := f.lock(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, unlock()) }()

	f.mu.Lock()
	defer f.mu.Unlock()
	return fn()
}

// read decodes the file into dst. A missing file leaves dst untouched.
func (f stateFile) read(dst any) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s file: %w", f.label, err)
	}

	if err := toml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s file: %w", f.label, err)
	}
	return nil
}

func (f stateFile) write(src any) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, stateDirMode); err != nil {
		return fmt.Errorf("create %s directory: %w", f.label, err)
	}

	data, err := toml.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode %s file: %w", f.label, err)
	}

	tempFile, err := os.CreateTemp(dir, "."+f.label+"-*.toml.tmp")
	if err != nil {
		return fmt.Errorf("create temp %s file: %w", f.label, err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp %s file: %w", f.label, err)
	}
	if err := tempFile.Chmod(stateFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp %s file: %w", f.label, err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp %s file: %w", f.label, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp %s file: %w", f.label, err)
	}

	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace %s file: %w", f.label, err)
	}
	cleanup = false

	return nil
}

func locksForPath(path string) *pathLocks {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if locks, ok := pathLockMap[path]; ok {
		return locks
	}

	locks := &pathLocks{guard: make(chan struct{}, 1)}
	pathLockMap[path] = locks
	return locks
}
