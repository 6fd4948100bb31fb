package health

import (
	"context"
	"net/http"
	"time"

	"github.com/hilthontt/courier/internal/infrastructure/json"
)

const checkTimeout = 2 * time.Second

// Check reports whether a dependency is usable.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	checks []Check
}

func NewHandler(checks ...Check) *Handler {
	return &Handler{checks: checks}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	data := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}
	json.Write(w, http.StatusOK, data)
}

// GetReady runs every check and answers 503 when any fails.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	data := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			data.Checks[c.Name] = err.Error()
			data.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		data.Checks[c.Name] = "ok"
	}

	json.Write(w, status, data)
}
