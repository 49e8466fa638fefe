package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 100 * time.Millisecond

// Locker allows one reconciliation per source at a time. Inside the process a
// one-slot channel per source does the work; when dir is set, a lock file per
// source extends the guarantee to other processes sharing the data dir.
type Locker struct {
	dir string

	mu   sync.Mutex
	sems map[string]chan struct{}
}

func NewLocker(dir string) (*Locker, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("lock dir: %w", err)
		}
	}
	return &Locker{dir: dir, sems: map[string]chan struct{}{}}, nil
}

func (l *Locker) sem(source string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[source]
	if !ok {
		s = make(chan struct{}, 1)
		l.sems[source] = s
	}
	return s
}

// Lock blocks until source is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, source string) (unlock func(), err error) {
	sem := l.sem(source)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("source %s busy: %w", source, ctx.Err())
	}

	if l.dir == "" {
		return func() { <-sem }, nil
	}

	fl := flock.New(filepath.Join(l.dir, source+".lock"))
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		<-sem
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("source %s busy: %w", source, err)
	}
	return func() {
		_ = fl.Unlock()
		<-sem
	}, nil
}
