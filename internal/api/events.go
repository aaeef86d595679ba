package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camgraph/internal/api/models"
	"github.com/smazurov/camgraph/internal/events"
)

// registerEventRoutes streams pipeline events over SSE.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Pipeline Events",
		Description: "Build, capture and reload events as Server-Sent Events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":              models.StreamConnected{},
		"pipeline-built":         events.PipelineBuiltEvent{},
		"pipeline-build-failed":  events.PipelineBuildFailedEvent{},
		"frame-captured":         events.FrameCapturedEvent{},
		"capture-error":          events.CaptureErrorEvent{},
		"empty-buffer-discarded": events.EmptyBufferDiscardedEvent{},
		"pipeline-closed":        events.PipelineClosedEvent{},
		"config-reloaded":        events.ConfigReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)
		unsubscribe := events.Forward(s.options.Bus, eventCh)
		defer unsubscribe()

		// Flushes the response headers before any pipeline event exists.
		if err := send.Data(models.StreamConnected{
			Message:   "SSE connection established",
			Built:     s.options.Status != nil && s.options.Status.Built(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
