// Package publisher announces completed sessions to downstream consumers.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/pipeline"
)

// Publisher sends payload to topic and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// URIResolver looks up where a session's result blob was written.
type URIResolver interface {
	URI(sessionID string) (string, bool)
}

// Notification is the compact message published per session.
type Notification struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Pages     int    `json:"pages"`
	Paths     int    `json:"paths"`
	BlobURI   string `json:"blobUri,omitempty"`
}

// Handler publishes a Notification for every completed Result.
type Handler struct {
	pub    Publisher
	topic  string
	blobs  URIResolver
	logger *zap.Logger
}

var _ pipeline.ResultHandler = (*Handler)(nil)

// NewHandler wires a Handler. blobs may be nil when no blob store is configured.
func NewHandler(pub Publisher, topic string, blobs URIResolver, logger *zap.Logger) (*Handler, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pub: pub, topic: topic, blobs: blobs, logger: logger.Named("publisher")}, nil
}

// Handle publishes the notification for result.
func (h *Handler) Handle(ctx context.Context, result pipeline.Result) error {
	msg := Notification{
		SessionID: result.SessionID,
		URL:       result.URL,
		Pages:     result.TotalPagesCrawled,
		Paths:     result.UniquePathsFound,
	}
	if h.blobs != nil {
		if uri, ok := h.blobs.URI(result.SessionID); ok {
			msg.BlobURI = uri
		}
	}
	id, err := h.pub.Publish(ctx, h.topic, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", h.topic, err)
	}
	h.logger.Debug("session published",
		zap.String("session_id", result.SessionID),
		zap.String("message_id", id))
	return nil
}
