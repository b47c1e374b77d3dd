package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"recon3d/internal/imageio"
	"recon3d/internal/model"
	"recon3d/internal/pipeline"
	"recon3d/internal/weights"
	"recon3d/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// statusFor maps well-known pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case pipeline.IsBusy(err):
		return http.StatusTooManyRequests
	case pipeline.IsQueryOutOfBounds(err), errors.Is(err, imageio.ErrNoImages), imageio.IsDecodeError(err):
		return http.StatusBadRequest
	case weights.IsWeightsUnavailable(err), model.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &he):
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}
