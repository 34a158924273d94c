package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher resolves an artifact id to a file written at dst.
type Fetcher interface {
	Fetch(ctx context.Context, artifactID, dst string) error
}

// Loader turns a local artifact into a Classifier.
type Loader interface {
	Load(path string) (Classifier, error)
}

type artifactKey struct {
	id   string
	path string
}

func (k artifactKey) String() string {
	return k.id + "\x00" + k.path
}

// Gateway makes sure an artifact is on disk and hands out its classifier,
// loading each (artifact id, path) pair at most once per process.
type Gateway struct {
	log     *slog.Logger
	fetcher Fetcher
	loader  Loader
	timeout time.Duration

	mu     sync.Mutex
	loaded map[artifactKey]Classifier
	group  singleflight.Group
}

// NewGateway builds a gateway. A positive timeout bounds each fetch and
// load attempt; zero means no limit.
func NewGateway(log *slog.Logger, fetcher Fetcher, loader Loader, timeout time.Duration) *Gateway {
	return &Gateway{
		log:     log,
		fetcher: fetcher,
		loader:  loader,
		timeout: timeout,
		loaded:  make(map[artifactKey]Classifier),
	}
}

// Ensure returns the classifier for artifactID stored at localPath, fetching
// the file first if it does not exist. Failures wrap ErrStartup and are not
// cached.
//
// Concurrent callers share one attempt. The attempt is detached from the
// callers' contexts and bounded by the gateway timeout, so a caller that
// gives up returns early without failing the others.
func (g *Gateway) Ensure(ctx context.Context, artifactID, localPath string) (Classifier, error) {
	key := artifactKey{id: artifactID, path: localPath}
	if c, ok := g.cached(key); ok {
		return c, nil
	}

	ch := g.group.DoChan(key.String(), func() (any, error) {
		if c, ok := g.cached(key); ok {
			return c, nil
		}

		loadCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(loadCtx, g.timeout)
			defer cancel()
		}

		c, err := g.load(loadCtx, key)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.loaded[key] = c
		g.mu.Unlock()
		return c, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrStartup, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStartup, res.Err)
		}
		return res.Val.(Classifier), nil
	}
}

func (g *Gateway) cached(key artifactKey) (Classifier, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.loaded[key]
	return c, ok
}

func (g *Gateway) load(ctx context.Context, key artifactKey) (Classifier, error) {
	fetched := false
	_, err := os.Stat(key.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		g.log.Info("Model artifact missing locally, fetching", "artifact_id", key.id, "path", key.path)
		if err := g.fetcher.Fetch(ctx, key.id, key.path); err != nil {
			return nil, fmt.Errorf("fetch artifact: %w", err)
		}
		fetched = true
	case err != nil:
		return nil, fmt.Errorf("stat %s: %w", key.path, err)
	default:
		g.log.Info("Using cached model artifact", "path", key.path)
	}

	c, err := g.loader.Load(key.path)
	if err != nil {
		if fetched {
			// A file we just downloaded but cannot load must not be picked up next time.
			if rmErr := os.Remove(key.path); rmErr != nil {
				g.log.Warn("Failed to remove unloadable artifact", "path", key.path, "error", rmErr)
			}
		}
		return nil, fmt.Errorf("load artifact: %w", err)
	}
	return c, nil
}

// Close releases every classifier loaded so far.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, c := range g.loaded {
		c.Close()
		delete(g.loaded, key)
	}
}
