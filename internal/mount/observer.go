// Package mount implements the Mount Observer (C2): it watches the
// replication daemon's mount point for liveness and reads the `.primary`
// marker file's presence/content, optionally caching observations for a
// configured TTL. fsnotify-driven invalidation follows the retrieval
// pack's own use of github.com/fsnotify/fsnotify for watching filesystem
// state; the TTL-cache guard mirrors the teacher's read/write-lock
// protected caches (internal/cache, pkg/health) rather than inventing a
// new synchronization idiom.
package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	coreerrors "github.com/litefs-adapter/core/pkg/errors"
)

const markerFileName = ".primary"
const fencedMarkerFileName = ".primary.blocked"

// MarkerKind distinguishes the three states the `.primary` marker can be
// in, per the marker-file protocol in §6.
type MarkerKind int

const (
	MarkerAbsent MarkerKind = iota
	MarkerPresentEmpty
	MarkerPresentWithContent
)

// Marker is the result of reading the `.primary` file: its kind and, when
// present-with-content, the primary's URL/host:port.
type Marker struct {
	Kind    MarkerKind
	Content string
}

// Observer implements the Mount Observer contract. Caching is disabled by
// default (ttl == 0): every call re-observes the filesystem. A positive
// TTL returns the last observation until it elapses.
type Observer struct {
	mountPath string
	ttl       time.Duration

	mu          sync.RWMutex
	cachedAt    time.Time
	cachedExist bool
	cachedMark  Marker
	haveCache   bool

	watcher *fsnotify.Watcher
}

// NewObserver constructs a Mount Observer for mountPath. ttl <= 0 disables
// caching.
func NewObserver(mountPath string, ttl time.Duration) *Observer {
	return &Observer{mountPath: mountPath, ttl: ttl}
}

// Watch starts an fsnotify watch on the mount path so cached observations
// can be invalidated as soon as the marker changes, rather than waiting
// out the full TTL. It is optional: callers that don't need sub-TTL
// freshness can skip calling it. The returned stop function removes the
// watch; callers should invoke it on shutdown.
func (o *Observer) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, coreerrors.Wrap(coreerrors.ErrCodeInfrastructureUnavailable, "failed to create mount watcher", err).
			WithComponent("mount", "Watch")
	}
	if err := w.Add(o.mountPath); err != nil {
		w.Close()
		return nil, coreerrors.Wrap(coreerrors.ErrCodeInfrastructureUnavailable, "failed to watch mount path", err).
			WithComponent("mount", "Watch").WithContext("mount_path", o.mountPath)
	}
	o.watcher = w

	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				o.invalidate()
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}

func (o *Observer) invalidate() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.haveCache = false
}

// MountExists reports whether the configured mount_path exists and is
// accessible.
func (o *Observer) MountExists() bool {
	exists, _ := o.observe()
	return exists
}

// ReadPrimaryMarker returns the current marker state. A missing mount
// raises an infrastructure-unavailable error naming the mount path.
func (o *Observer) ReadPrimaryMarker() (Marker, error) {
	exists, marker := o.observe()
	if !exists {
		return Marker{}, coreerrors.New(coreerrors.ErrCodeInfrastructureUnavailable, fmt.Sprintf("mount path %s is not accessible", o.mountPath)).
			WithComponent("mount", "ReadPrimaryMarker").
			WithContext("mount_path", o.mountPath)
	}
	return marker, nil
}

// observe returns a (possibly cached) pair of (mount exists, marker).
func (o *Observer) observe() (bool, Marker) {
	if o.ttl > 0 {
		if exists, marker, ok := o.readCache(); ok {
			return exists, marker
		}
	}

	exists, marker := o.observeLive()

	if o.ttl > 0 {
		o.writeCache(exists, marker)
	}
	return exists, marker
}

func (o *Observer) readCache() (bool, Marker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.haveCache || time.Since(o.cachedAt) >= o.ttl {
		return false, Marker{}, false
	}
	return o.cachedExist, o.cachedMark, true
}

func (o *Observer) writeCache(exists bool, marker Marker) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cachedAt = time.Now()
	o.cachedExist = exists
	o.cachedMark = marker
	o.haveCache = true
}

func (o *Observer) observeLive() (bool, Marker) {
	if _, err := os.Stat(o.mountPath); err != nil {
		return false, Marker{}
	}

	markerPath := filepath.Join(o.mountPath, markerFileName)
	data, err := os.ReadFile(markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return true, Marker{Kind: MarkerAbsent}
		}
		return true, Marker{Kind: MarkerAbsent}
	}
	if len(data) == 0 {
		return true, Marker{Kind: MarkerPresentEmpty}
	}
	return true, Marker{Kind: MarkerPresentWithContent, Content: string(data)}
}

// FenceWriteAccess implements the Conflict Resolution port's fencing
// operation: renaming `.primary` to `.primary.blocked` so the underlying
// filesystem rejects writes regardless of role belief. It is idempotent; a
// missing source file is not an error. ctx is accepted for parity with
// ports.ConflictResolution; renaming a local file is not itself
// cancellable, so it is not threaded any further.
func (o *Observer) FenceWriteAccess(ctx context.Context) error {
	src := filepath.Join(o.mountPath, markerFileName)
	dst := filepath.Join(o.mountPath, fencedMarkerFileName)

	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return coreerrors.Wrap(coreerrors.ErrCodeInfrastructureUnavailable, "failed to fence write access", err).
			WithComponent("mount", "FenceWriteAccess")
	}
	return nil
}
