package model

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	labels []string
	closed atomic.Bool
}

func (s *stubClassifier) Labels() []string { return s.labels }

func (s *stubClassifier) Scores(image.Image) ([]float32, error) {
	return make([]float32, len(s.labels)), nil
}

func (s *stubClassifier) Close() { s.closed.Store(true) }

type stubFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, artifactID, dst string) error {
	f.calls.Add(1)
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("artifact:"+artifactID), 0o644)
}

type stubLoader struct {
	calls atomic.Int32
	err   error
}

func (l *stubLoader) Load(path string) (Classifier, error) {
	l.calls.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &stubClassifier{labels: []string{"cat", "dog"}}, nil
}

// blockingFetcher holds every fetch until release is closed or the fetch
// context ends.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
}

func (f *blockingFetcher) Fetch(ctx context.Context, artifactID, dst string) error {
	f.calls.Add(1)
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, []byte("artifact:"+artifactID), 0o644)
}

func TestGateway_EnsureFetchesAndLoadsOnce(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "models", "model.onnx")
	fetcher := &stubFetcher{}
	loader := &stubLoader{}
	gw := NewGateway(log, fetcher, loader, 0)

	first, err := gw.Ensure(context.Background(), "abc", path)
	req.NoError(err)
	second, err := gw.Ensure(context.Background(), "abc", path)
	req.NoError(err)

	req.Same(first, second)
	req.Equal(int32(1), fetcher.calls.Load())
	req.Equal(int32(1), loader.calls.Load())
	req.FileExists(path)
}

func TestGateway_EnsureSkipsFetchWhenFileExists(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	req.NoError(os.WriteFile(path, []byte("model"), 0o644))
	fetcher := &stubFetcher{}
	loader := &stubLoader{}
	gw := NewGateway(log, fetcher, loader, 0)

	c, err := gw.Ensure(context.Background(), "abc", path)
	req.NoError(err)
	req.Equal([]string{"cat", "dog"}, c.Labels())
	req.Equal(int32(0), fetcher.calls.Load())
	req.Equal(int32(1), loader.calls.Load())
}

func TestGateway_EnsureConcurrentFirstCalls(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	fetcher := &stubFetcher{}
	loader := &stubLoader{}
	gw := NewGateway(log, fetcher, loader, 0)

	const callers = 16
	results := make([]Classifier, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := gw.Ensure(context.Background(), "abc", path)
			if err == nil {
				results[i] = c
			}
		}(i)
	}
	wg.Wait()

	for _, c := range results {
		req.NotNil(c)
		req.Same(results[0], c)
	}
	req.Equal(int32(1), fetcher.calls.Load())
	req.Equal(int32(1), loader.calls.Load())
}

func TestGateway_DistinctArgumentsLoadSeparately(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dir := t.TempDir()
	fetcher := &stubFetcher{}
	loader := &stubLoader{}
	gw := NewGateway(log, fetcher, loader, 0)

	a, err := gw.Ensure(context.Background(), "abc", filepath.Join(dir, "a.onnx"))
	req.NoError(err)
	b, err := gw.Ensure(context.Background(), "abc", filepath.Join(dir, "b.onnx"))
	req.NoError(err)

	req.NotSame(a, b)
	req.Equal(int32(2), fetcher.calls.Load())
	req.Equal(int32(2), loader.calls.Load())
}

func TestGateway_FetchFailureIsStartupErrorAndNotCached(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	fetcher := &stubFetcher{err: errors.New("network down")}
	loader := &stubLoader{}
	gw := NewGateway(log, fetcher, loader, 0)

	_, err := gw.Ensure(context.Background(), "abc", path)
	req.ErrorIs(err, ErrStartup)
	req.ErrorContains(err, "network down")
	req.NoFileExists(path)
	req.Equal(int32(0), loader.calls.Load())

	fetcher.err = nil
	c, err := gw.Ensure(context.Background(), "abc", path)
	req.NoError(err)
	req.NotNil(c)
	req.Equal(int32(2), fetcher.calls.Load())
}

func TestGateway_LoadFailureRemovesFreshDownload(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	fetcher := &stubFetcher{}
	loader := &stubLoader{err: errors.New("corrupt model")}
	gw := NewGateway(log, fetcher, loader, 0)

	_, err := gw.Ensure(context.Background(), "abc", path)
	req.ErrorIs(err, ErrStartup)
	req.NoFileExists(path)
}

func TestGateway_LoadFailureKeepsExistingFile(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	req.NoError(os.WriteFile(path, []byte("model"), 0o644))
	gw := NewGateway(log, &stubFetcher{}, &stubLoader{err: errors.New("corrupt model")}, 0)

	_, err := gw.Ensure(context.Background(), "abc", path)
	req.ErrorIs(err, ErrStartup)
	req.FileExists(path)
}

func TestGateway_CloseReleasesClassifiers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	gw := NewGateway(log, &stubFetcher{}, &stubLoader{}, 0)

	c, err := gw.Ensure(context.Background(), "abc", path)
	req.NoError(err)
	gw.Close()

	req.True(c.(*stubClassifier).closed.Load())
}

func TestGateway_CallerCancelDoesNotFailOthers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	fetcher := newBlockingFetcher()
	loader := &stubLoader{}
	gw := NewGateway(log, fetcher, loader, 0)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := gw.Ensure(ctx, "abc", path)
		firstErr <- err
	}()

	<-fetcher.started
	cancel()
	err := <-firstErr
	req.ErrorIs(err, ErrStartup)
	req.ErrorIs(err, context.Canceled)

	secondErr := make(chan error, 1)
	go func() {
		_, err := gw.Ensure(context.Background(), "abc", path)
		secondErr <- err
	}()
	close(fetcher.release)

	req.NoError(<-secondErr)
	req.Equal(int32(1), fetcher.calls.Load())
	req.Equal(int32(1), loader.calls.Load())
	req.FileExists(path)
}

func TestGateway_TimeoutBoundsAttempt(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "model.onnx")
	fetcher := newBlockingFetcher()
	gw := NewGateway(log, fetcher, &stubLoader{}, 20*time.Millisecond)

	_, err := gw.Ensure(context.Background(), "abc", path)
	req.ErrorIs(err, ErrStartup)
	req.ErrorIs(err, context.DeadlineExceeded)
	req.NoFileExists(path)
}
