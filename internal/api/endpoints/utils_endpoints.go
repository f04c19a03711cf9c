package endpoints

import (
	"net/http"

	"support-dispatch-backend/internal/dto"
	"support-dispatch-backend/internal/service/dispatch"
)

type UtilsEndpoints interface {
	Health(http.ResponseWriter, *http.Request) error
}

type utilsEndpoints struct {
	dispatcher *dispatch.Dispatcher
}

func NewUtilsEndpoints(d *dispatch.Dispatcher) UtilsEndpoints {
	return &utilsEndpoints{dispatcher: d}
}

// Health answers 200 even while the store is failing; the failure is
// reported in the body.
func (h *utilsEndpoints) Health(w http.ResponseWriter, r *http.Request) error {
	resp := dto.HealthResponse{Status: "ok"}
	if h.dispatcher != nil {
		resp.PendingWrites = h.dispatcher.PendingWrites()
		if err := h.dispatcher.PersistenceError(); err != nil {
			resp.Status = "degraded"
			resp.PersistenceError = err.Error()
		}
	}
	return WriteJSON(w, http.StatusOK, resp)
}
