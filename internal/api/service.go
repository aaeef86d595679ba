package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camgraph/internal/api/models"
	"github.com/smazurov/camgraph/internal/systemd"
)

// ServiceController is the daemon's own systemd unit.
type ServiceController interface {
	Unit() string
	Status(ctx context.Context) (systemd.UnitStatus, error)
	Restart(ctx context.Context) error
}

func (s *Server) registerServiceRoutes() {
	if s.options.Service == nil {
		return
	}
	svc := s.options.Service

	huma.Register(s.api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/api/service/status",
		Summary:     "Service Status",
		Description: "Get the systemd state of the camgraph unit",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.ServiceStatusResponse, error) {
		status, err := svc.Status(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get service status", err)
		}
		return &models.ServiceStatusResponse{Body: status}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "restart-service",
		Method:        http.MethodPost,
		Path:          "/api/service/restart",
		Summary:       "Restart Service",
		Description:   "Ask systemd to restart the camgraph unit. The pipeline is torn down and rebuilt by the new process.",
		Tags:          []string{"systemd"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, _ *struct{}) (*models.ServiceActionResponse, error) {
		s.logger.Warn("Service restart requested", "unit", svc.Unit())
		if err := svc.Restart(ctx); err != nil {
			return nil, huma.Error500InternalServerError("Failed to restart service", err)
		}
		return &models.ServiceActionResponse{
			Body: models.ServiceAction{Unit: svc.Unit(), Action: "restart", Success: true},
		}, nil
	})
}
