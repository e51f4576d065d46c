package monitor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/yadowatch/monitor/internal/scheduler"
)

// Router builds the status API. Read-only except for the manual check
// trigger; there is no mutation of configuration at runtime.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.sched.Snapshot())
	})

	r.Get("/api/sources", func(w http.ResponseWriter, _ *http.Request) {
		out := make([]sourceView, 0, len(s.config.Sources))
		for _, sc := range s.config.Sources {
			out = append(out, sourceView{
				ID:          sc.ID,
				Name:        sc.Name,
				Kind:        sc.Kind,
				URL:         sc.URL,
				Interval:    sc.Interval.Std().String(),
				Enabled:     sc.IsEnabled(),
				TargetDates: sc.TargetDates,
				Location:    sc.Location,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/api/sources/{id}/check", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		err := s.CheckNow(req.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, map[string]string{"source": id, "status": "started"})
		case errors.Is(err, ErrUnknownSource), errors.Is(err, scheduler.ErrUnknownSource):
			writeError(w, http.StatusNotFound, "unknown source")
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "check already running")
		case errors.Is(err, scheduler.ErrDisabled):
			writeError(w, http.StatusConflict, "source is disabled")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	})

	return r
}

// sourceView is the wire shape of one configured source. Options and hosts
// stay internal.
type sourceView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	URL         string   `json:"url"`
	Interval    string   `json:"interval"`
	Enabled     bool     `json:"enabled"`
	TargetDates []string `json:"target_dates,omitempty"`
	Location    string   `json:"location,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
