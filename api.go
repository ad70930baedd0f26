package photoflow

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// APIConfig configures the HTTP surface around a Flow: the trigger endpoint
// an external scheduler hits to run one poll cycle, and the operator routes
// over the job store. Both are guarded by shared-secret credentials, passed
// either in the X-Photoflow-Secret header or a "secret" query parameter.
type APIConfig struct {
	// TriggerSecret guards POST /internal/jobs/run.
	TriggerSecret string
	// AdminSecret guards the /admin/jobs routes. Elevated privilege: it
	// mutates job state.
	AdminSecret string
	// Media resolves a job's image id to its gallery record so the
	// single-job route can show what the job operates on. Optional; when
	// nil the response carries the bare job row.
	Media MediaSummaryProvider
}

// MediaSummary is the gallery-side view of the image a job operates on.
type MediaSummary struct {
	ID            string `json:"id"`
	MimeType      string `json:"mimeType,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
	OriginalPath  string `json:"originalPath,omitempty"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
	PreviewPath   string `json:"previewPath,omitempty"`
}

// MediaSummaryProvider looks up the gallery record behind an image id.
// Returning a nil summary means the image is unknown; that is not an error
// for the admin surface, the job may simply predate the gallery row.
type MediaSummaryProvider interface {
	MediaSummary(ctx context.Context, imageID string) (*MediaSummary, error)
}

// NewAPIHandler builds the router for the trigger and admin endpoints.
func NewAPIHandler(f *Flow, cfg APIConfig) http.Handler {
	a := &apiHandler{flow: f, cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/internal/jobs/run", a.withSecret(cfg.TriggerSecret, a.runCycle)).Methods("POST")
	r.HandleFunc("/admin/jobs", a.withSecret(cfg.AdminSecret, a.listJobs)).Methods("GET")
	r.HandleFunc("/admin/jobs/{id}", a.withSecret(cfg.AdminSecret, a.getJob)).Methods("GET")
	r.HandleFunc("/admin/jobs/{id}/cancel", a.withSecret(cfg.AdminSecret, a.cancelJob)).Methods("POST")
	r.HandleFunc("/admin/jobs/{id}/retry", a.withSecret(cfg.AdminSecret, a.retryJob)).Methods("POST")
	r.HandleFunc("/admin/jobs/{id}/force-run", a.withSecret(cfg.AdminSecret, a.forceRunJob)).Methods("POST")
	return r
}

type apiHandler struct {
	flow *Flow
	cfg  APIConfig
}

const secretHeader = "X-Photoflow-Secret"

func (a *apiHandler) withSecret(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		given := r.Header.Get(secretHeader)
		if given == "" {
			given = r.URL.Query().Get("secret")
		}
		if secret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (a *apiHandler) runCycle(w http.ResponseWriter, r *http.Request) {
	batchSize := 0
	if v := r.URL.Query().Get("batchSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid batchSize")
			return
		}
		batchSize = n
	}

	summary, err := a.flow.ProcessPendingJobs(r.Context(), batchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claimed":    summary.Claimed,
		"succeeded":  summary.Succeeded,
		"failed":     summary.Failed,
		"discarded":  summary.Discarded,
		"reclaimed":  summary.Reclaimed,
		"durationMs": summary.Duration.Milliseconds(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *apiHandler) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := JobFilter{
		Status:  JobStatus(q.Get("status")),
		Type:    JobType(q.Get("type")),
		ImageID: q.Get("imageId"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	jobs, err := a.flow.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobJSON(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (a *apiHandler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.flow.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJobError(w, err)
		return
	}
	out := jobJSON(job)
	if a.cfg.Media != nil && job.ImageID != "" {
		media, err := a.cfg.Media.MediaSummary(r.Context(), job.ImageID)
		switch {
		case err != nil:
			// The job row is still useful without the gallery record.
			a.flow.cfg.logError(LogEvent{
				Message: "failed to load media summary",
				JobID:   job.ID,
				ImageID: job.ImageID,
				Err:     err,
			})
		case media != nil:
			out["media"] = media
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *apiHandler) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.flow.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobJSON(job))
}

func (a *apiHandler) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.flow.RetryJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobJSON(job))
}

func (a *apiHandler) forceRunJob(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Operator string `json:"operator"`
	}
	if r.Body != nil {
		// Body is optional; a bad one is still a client error.
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	job, err := a.flow.ForceRunJob(r.Context(), mux.Vars(r)["id"], input.Operator)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobJSON(job))
}

func jobJSON(job *Job) map[string]any {
	out := map[string]any{
		"id":          job.ID,
		"type":        job.Type,
		"status":      job.Status,
		"payload":     json.RawMessage(job.Payload),
		"attempts":    job.Attempts,
		"maxAttempts": job.MaxAttempts,
		"imageId":     job.ImageID,
		"canRetry":    job.CanRetry(),
		"createdAt":   job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updatedAt":   job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.LastError != nil {
		out["lastError"] = *job.LastError
	}
	if job.Locked() {
		out["lockedBy"] = *job.LockedBy
		out["lockedAt"] = job.LockedAt.UTC().Format(time.RFC3339Nano)
		out["lockedForMs"] = job.LockAge(time.Now()).Milliseconds()
	}
	return out
}

func writeJobError(w http.ResponseWriter, err error) {
	var transition *InvalidTransitionError
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  transition.Error(),
			"status": transition.Status,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
