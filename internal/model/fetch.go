package model

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultURLTemplate downloads a Google Drive file by id without the
// large-file confirmation page.
const DefaultURLTemplate = "https://drive.usercontent.google.com/download?id={id}&export=download&confirm=t"

// ErrArtifactNotFound is returned when the store has nothing under the id.
var ErrArtifactNotFound = errors.New("artifact not found")

// HTTPFetcher downloads artifacts from a URL built from a template.
type HTTPFetcher struct {
	log      *slog.Logger
	client   *http.Client
	template string
}

func NewHTTPFetcher(log *slog.Logger, client *http.Client, template string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(template) == "" {
		template = DefaultURLTemplate
	}
	return &HTTPFetcher{log: log, client: client, template: template}
}

func (f *HTTPFetcher) URL(artifactID string) string {
	return strings.ReplaceAll(f.template, "{id}", url.QueryEscape(artifactID))
}

func (f *HTTPFetcher) Fetch(ctx context.Context, artifactID, dst string) error {
	artifactID = strings.TrimSpace(artifactID)
	if artifactID == "" {
		return errors.New("artifact id is required")
	}

	src := f.URL(artifactID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	f.log.Info("Downloading model artifact", "url", src, "path", dst)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", artifactID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, artifactID)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("download %s: unexpected status %s", artifactID, resp.Status)
	}

	// File hosts answer bad ids and quota errors with an HTML page and a 200.
	body := bufio.NewReaderSize(resp.Body, 3072)
	head, err := body.Peek(3072)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("download %s: %w", artifactID, err)
	}
	if mimetype.Detect(head).Is("text/html") {
		return fmt.Errorf("download %s: artifact store returned an HTML page", artifactID)
	}

	n, err := writeAtomic(dst, body)
	if err != nil {
		return fmt.Errorf("download %s: %w", artifactID, err)
	}

	f.log.Info("Model artifact downloaded", "path", dst, "bytes", n)
	return nil
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// S3Fetcher downloads artifacts from an S3 compatible bucket; the artifact
// id is the object key.
type S3Fetcher struct {
	log    *slog.Logger
	client *minio.Client
	bucket string
}

func NewS3Fetcher(log *slog.Logger, cfg S3Config) (*S3Fetcher, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &S3Fetcher{log: log, client: client, bucket: bucket}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, artifactID, dst string) error {
	key := strings.TrimSpace(artifactID)
	if key == "" {
		return errors.New("artifact id is required")
	}

	f.log.Info("Downloading model artifact", "bucket", f.bucket, "key", key, "path", dst)

	obj, err := f.client.GetObject(ctx, f.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	n, err := writeAtomic(dst, obj)
	if err != nil {
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && (errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket") {
			return fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, f.bucket, key)
		}
		return fmt.Errorf("get object %s: %w", key, err)
	}

	f.log.Info("Model artifact downloaded", "path", dst, "bytes", n)
	return nil
}

// writeAtomic streams r into a temp file next to dst and renames it into
// place only once everything has been written and synced.
func writeAtomic(dst string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write: %w", err)
	}
	if n == 0 {
		_ = tmp.Close()
		return 0, errors.New("artifact is empty")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return n, fmt.Errorf("rename: %w", err)
	}
	tmpPath = ""
	return n, nil
}
