package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docchat/internal/domain"
)

const defaultPresignTTL = time.Hour

type PublisherConfig struct {
	Storage domain.ObjectStorage
	Bucket  string
	TTL     time.Duration
	Logger  *slog.Logger
}

// Publisher uploads rendered artifacts under rooms/<roomID>/ and returns a
// download link.
type Publisher struct {
	storage domain.ObjectStorage
	bucket  string
	ttl     time.Duration
	logger  *slog.Logger
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultPresignTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Publisher{storage: cfg.Storage, bucket: cfg.Bucket, ttl: cfg.TTL, logger: cfg.Logger}
}

// ObjectPath is the storage key of an artifact.
func ObjectPath(roomID, filename string) string {
	return "rooms/" + safeSegment(roomID) + "/" + safeSegment(filename)
}

// Save uploads data and presigns it. It satisfies render.Saver.
func (p *Publisher) Save(ctx context.Context, roomID, filename, contentType string, data []byte) (string, error) {
	key, err := p.storage.Upload(ctx, p.bucket, ObjectPath(roomID, filename), data, contentType)
	if err != nil {
		return "", err
	}
	link, err := p.storage.Presign(ctx, p.bucket, key, p.ttl)
	if err != nil {
		return "", fmt.Errorf("link %s: %w", key, err)
	}
	p.logger.Debug("artifact published", "room", roomID, "path", key)
	return link, nil
}

// safeSegment keeps room ids from introducing extra path levels.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, s)
	if s == "" || strings.Trim(s, ".") == "" {
		return "_"
	}
	return s
}
