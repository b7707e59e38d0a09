package logging

import (
	"context"
	"log/slog"
)

// ComponentKey is the attribute that selects a component's level.
const ComponentKey = "component"

// filteringHandler drops records below the level its spec assigns to
// the component bound through WithAttrs.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner so that records are filtered by
// spec. inner should accept every level.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{inner: inner, spec: spec}
}

func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).ToSlog()
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone(h.inner.WithAttrs(attrs))
	for _, a := range attrs {
		if a.Key == ComponentKey {
			next.component = a.Value.String()
		}
	}
	return next
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return h.clone(h.inner.WithGroup(name))
}

func (h *filteringHandler) clone(inner slog.Handler) *filteringHandler {
	return &filteringHandler{inner: inner, spec: h.spec, component: h.component}
}
