package logging

import (
	"context"
	"fmt"
	"log/slog"
)

type connTagsKey struct{}

// connTags identifies the connection a log record belongs to.
type connTags struct {
	id     string
	origin string
}

func tagsFrom(ctx context.Context) connTags {
	tags, _ := ctx.Value(connTagsKey{}).(connTags)
	return tags
}

// WithConnID returns a context whose log records carry conn_id=id.
func WithConnID(ctx context.Context, id string) context.Context {
	tags := tagsFrom(ctx)
	tags.id = id
	return context.WithValue(ctx, connTagsKey{}, tags)
}

// WithOrigin returns a context whose log records carry origin=origin.
func WithOrigin(ctx context.Context, origin string) context.Context {
	tags := tagsFrom(ctx)
	tags.origin = origin
	return context.WithValue(ctx, connTagsKey{}, tags)
}

// ConnID extracts the connection ID from ctx, returning ("", false) if not present.
func ConnID(ctx context.Context) (string, bool) {
	id := tagsFrom(ctx).id
	return id, id != ""
}

// Handler decorates records logged with a connection context with its conn_id
// and origin attributes.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	tags := tagsFrom(ctx)
	if tags.id != "" {
		r.AddAttrs(slog.String("conn_id", tags.id))
	}
	if tags.origin != "" {
		r.AddAttrs(slog.String("origin", tags.origin))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("connection log handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewHandler(h.inner.WithAttrs(attrs))
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return NewHandler(h.inner.WithGroup(name))
}
