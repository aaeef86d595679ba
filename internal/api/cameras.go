package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camgraph/internal/api/models"
)

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "Configuration, capture state and counters of every discovered camera",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.CameraListResponse, error) {
		if s.options.Status == nil {
			return nil, huma.Error503ServiceUnavailable("pipeline not initialised")
		}
		snap := s.options.Status.Snapshot()
		resp := &models.CameraListResponse{}
		resp.Body.Cameras = make([]models.CameraData, 0, len(snap))
		for _, cs := range snap {
			resp.Body.Cameras = append(resp.Body.Cameras, models.NewCameraData(cs))
		}
		resp.Body.Count = len(resp.Body.Cameras)
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera}",
		Summary:     "Get Camera",
		Description: "Configuration, capture state and counters of one camera",
		Tags:        []string{"cameras"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(_ context.Context, input *models.CameraRequest) (*models.CameraResponse, error) {
		if s.options.Status == nil {
			return nil, huma.Error503ServiceUnavailable("pipeline not initialised")
		}
		for _, cs := range s.options.Status.Snapshot() {
			if cs.Index == input.Camera {
				return &models.CameraResponse{Body: models.NewCameraData(cs)}, nil
			}
		}
		return nil, huma.Error404NotFound(fmt.Sprintf("camera %d not found", input.Camera))
	})
}
