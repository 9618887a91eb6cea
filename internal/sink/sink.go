// Package sink delivers finished recordings to storage: a local directory
// or an object store, each artifact accompanied by a JSON metadata sidecar.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/config"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

var log = logging.L("sink")

// ErrUnknownType is returned by New for an unrecognized sink type.
var ErrUnknownType = errors.New("unknown sink type")

// Artifact is a finished recording ready for delivery.
type Artifact struct {
	Filename  string
	MimeType  string
	Data      []byte
	Duration  time.Duration
	Width     int
	Height    int
	SessionID string
	SurfaceID string
	CreatedAt time.Time
}

// FromResult builds an Artifact from a completed session.
func FromResult(r capture.Result, at time.Time) Artifact {
	return Artifact{
		Filename:  r.Filename,
		MimeType:  r.MimeType,
		Data:      r.Artifact,
		Duration:  r.Duration,
		Width:     r.Width,
		Height:    r.Height,
		SessionID: r.SessionID,
		SurfaceID: r.SurfaceID,
		CreatedAt: at.UTC(),
	}
}

// Sink stores artifacts.
type Sink interface {
	// Save stores a and returns where it went.
	Save(ctx context.Context, a Artifact) (string, error)
	Close() error
}

// Metadata is the sidecar written next to every artifact.
type Metadata struct {
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int       `json:"sizeBytes"`
	DurationMs int64     `json:"durationMs"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	SessionID  string    `json:"sessionId"`
	SurfaceID  string    `json:"surfaceId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func metadataFor(a Artifact) ([]byte, error) {
	return json.MarshalIndent(Metadata{
		Filename:   a.Filename,
		MimeType:   a.MimeType,
		SizeBytes:  len(a.Data),
		DurationMs: a.Duration.Milliseconds(),
		Width:      a.Width,
		Height:     a.Height,
		SessionID:  a.SessionID,
		SurfaceID:  a.SurfaceID,
		CreatedAt:  a.CreatedAt,
	}, "", "  ")
}

// sidecarName returns "<name>.json" for "<name>.<ext>".
func sidecarName(filename string) string {
	return strings.TrimSuffix(filename, path.Ext(filename)) + ".json"
}

func validate(a Artifact) error {
	if a.Filename == "" {
		return errors.New("artifact filename is required")
	}
	if strings.ContainsAny(a.Filename, `/\`) || a.Filename == "." || a.Filename == ".." {
		return fmt.Errorf("artifact filename %q must be a bare name", a.Filename)
	}
	if len(a.Data) == 0 {
		return errors.New("artifact is empty")
	}
	return nil
}

// putFunc uploads one object.
type putFunc func(ctx context.Context, key, contentType string, data []byte) error

// objectSink adapts an object store to Sink: the artifact goes to
// prefix/filename and its sidecar next to it.
type objectSink struct {
	kind     string
	prefix   string
	put      putFunc
	location func(key string) string
	close    func() error
}

func (s *objectSink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *objectSink) Save(ctx context.Context, a Artifact) (string, error) {
	if err := validate(a); err != nil {
		return "", err
	}
	meta, err := metadataFor(a)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}

	key := s.key(a.Filename)
	if err := s.put(ctx, key, a.MimeType, a.Data); err != nil {
		return "", fmt.Errorf("%s upload %s: %w", s.kind, key, err)
	}
	if err := s.put(ctx, s.key(sidecarName(a.Filename)), "application/json", meta); err != nil {
		return "", fmt.Errorf("%s upload metadata for %s: %w", s.kind, key, err)
	}

	loc := s.location(key)
	log.Info("artifact uploaded", "sink", s.kind, "location", loc, logging.KeyBytes, len(a.Data))
	return loc, nil
}

func (s *objectSink) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// New builds the sink described by cfg. Remote sinks retry failed
// uploads cfg.Retries times.
func New(ctx context.Context, cfg config.SinkConfig) (Sink, error) {
	prefix := strings.Trim(cfg.Prefix, "/")
	var (
		s   Sink
		err error
	)
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "s3":
		s, err = NewS3(ctx, S3Options{
			Bucket:          cfg.Bucket,
			Prefix:          prefix,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	case "gcs":
		s, err = NewGCS(ctx, cfg.Bucket, prefix, cfg.CredentialsFile)
	case "azure":
		s, err = NewAzure(cfg.ConnectionString, cfg.Container, prefix)
	case "b2":
		s, err = NewB2(ctx, cfg.AccountID, cfg.ApplicationKey, cfg.Bucket, prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.Retries
	return WithRetry(s, rc), nil
}
