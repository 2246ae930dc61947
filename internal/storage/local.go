package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/domain"
)

type LocalConfig struct {
	Dir     string // root directory; buckets are subdirectories
	BaseURL string // public URL under which Handler is mounted
	Logger  *slog.Logger
}

// Local keeps objects on the filesystem and serves them over HTTP.
// Links do not expire.
type Local struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

var _ domain.ObjectStorage = (*Local)(nil)

func NewLocal(cfg LocalConfig) (*Local, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create storage directory %s: %w", cfg.Dir, err)
	}
	return &Local{
		dir:     cfg.Dir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger,
	}, nil
}

// resolve maps bucket/objectPath into the storage root, rejecting escapes.
func (l *Local) resolve(bucket, objectPath string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(objectPath))
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." ||
		rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object path %q", bucket+"/"+objectPath)
	}
	return filepath.Join(l.dir, bucket, rel), nil
}

func (l *Local) Upload(_ context.Context, bucket, objectPath string, data []byte, _ string) (string, error) {
	full, err := l.resolve(bucket, objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("upload %s: %w", objectPath, err)
	}
	l.logger.Debug("object written", "path", full)
	return objectPath, nil
}

// Presign returns the public URL of an existing object; ttl is ignored.
func (l *Local) Presign(_ context.Context, bucket, objectPath string, _ time.Duration) (string, error) {
	full, err := l.resolve(bucket, objectPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("presign %s: %w", objectPath, err)
	}
	segs := strings.Split(bucket+"/"+objectPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return l.baseURL + "/" + strings.Join(segs, "/"), nil
}

// Handler serves stored objects; mount it at the path of BaseURL with the
// prefix stripped.
func (l *Local) Handler() http.Handler {
	fs := http.FileServer(http.Dir(l.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", "attachment")
		fs.ServeHTTP(w, r)
	})
}
