// Package storage persists completed session results as JSON blobs. The
// backends live in subpackages (memory, local, gcs); BlobHandler names the
// objects and plugs into the pipeline handoff.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/pipeline"
)

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

const (
	digestLength  = 16
	maxTrackedURI = 256
)

// BlobHandlerConfig controls object naming.
type BlobHandlerConfig struct {
	Prefix      string
	ContentType string
}

// BlobHandler writes each Result to a BlobStore under
// <prefix>/<yyyy-mm-dd>/<sessionId>-<digest>.json and remembers the URI of
// recent sessions for later handlers.
type BlobHandler struct {
	store  BlobStore
	hasher crawler.Hasher
	cfg    BlobHandlerConfig
	logger *zap.Logger

	mu    sync.Mutex
	uris  map[string]string
	order []string
}

var _ pipeline.ResultHandler = (*BlobHandler)(nil)

// NewBlobHandler wires a handler. store and hasher are required.
func NewBlobHandler(store BlobStore, hasher crawler.Hasher, cfg BlobHandlerConfig, logger *zap.Logger) (*BlobHandler, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobHandler{
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		logger: logger.Named("blob"),
		uris:   make(map[string]string),
	}, nil
}

// Handle marshals result and uploads it.
func (h *BlobHandler) Handle(ctx context.Context, result pipeline.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	digest, err := h.hasher.Hash(body)
	if err != nil {
		return fmt.Errorf("hash result: %w", err)
	}
	name := ObjectName(h.cfg.Prefix, result, digest)
	uri, err := h.store.PutObject(ctx, name, h.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	h.remember(result.SessionID, uri)
	h.logger.Info("result stored",
		zap.String("session_id", result.SessionID),
		zap.String("uri", uri),
		zap.Int("bytes", len(body)))
	return nil
}

// URI returns the blob URI written for sessionID, if it is still tracked.
func (h *BlobHandler) URI(sessionID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uri, ok := h.uris[sessionID]
	return uri, ok
}

func (h *BlobHandler) remember(sessionID, uri string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.uris[sessionID]; !ok {
		h.order = append(h.order, sessionID)
	}
	h.uris[sessionID] = uri
	for len(h.order) > maxTrackedURI {
		delete(h.uris, h.order[0])
		h.order = h.order[1:]
	}
}

// ObjectName builds the blob path for result. The session id is reduced to
// [A-Za-z0-9._-] so it cannot escape the date directory.
func ObjectName(prefix string, result pipeline.Result, digest string) string {
	if len(digest) > digestLength {
		digest = digest[:digestLength]
	}
	day := result.CrawledAt.UTC().Format("2006-01-02")
	file := fmt.Sprintf("%s-%s.json", safeSegment(result.SessionID), digest)
	return path.Join(strings.Trim(prefix, "/"), day, file)
}

func safeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == '.' && b.Len() > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}
