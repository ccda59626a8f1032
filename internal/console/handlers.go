package console

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"calligraphy/internal/compose"
	"calligraphy/internal/pipeline"
)

type createJobRequest struct {
	InputText string `json:"input_text"`
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jobID, err := a.Tracker.Start(r.Context(), req.InputText)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, createJobResponse{JobID: jobID})
}

func (a *App) CurrentJob(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Tracker.Current())
}

func (a *App) InterruptJob(w http.ResponseWriter, r *http.Request) {
	if err := a.Tracker.Interrupt(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"status": "interrupting"})
}

func (a *App) Download(w http.ResponseWriter, r *http.Request) {
	variant := chi.URLParam(r, "variant")
	switch variant {
	case pipeline.VariantWhiteBG, pipeline.VariantNoBG, pipeline.VariantBundle:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "variant must be white-bg, no-bg or bundle")
		return
	}
	artifact, err := a.Tracker.Download(r.Context(), variant)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	mime := compose.MIMEType
	if variant == pipeline.VariantBundle {
		mime = "application/zip"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", artifact.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Data)
}

func (a *App) PlaceholderImage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", compose.MIMEType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Placeholder)
}
