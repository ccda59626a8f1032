// Package console serves the local web console: it starts a generation,
// reports progress, interrupts it and hands out the composite downloads.
package console

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"calligraphy/internal/compose"
	"calligraphy/internal/domain"
)

type App struct {
	Tracker     *Tracker
	Logger      zerolog.Logger
	Placeholder []byte
}

// NewApp builds the handler container. The placeholder tile is encoded once
// at the thumbnail size.
func NewApp(tracker *Tracker, logger zerolog.Logger, imageSize int) (*App, error) {
	placeholder, err := compose.Encode(compose.Placeholder(imageSize))
	if err != nil {
		return nil, err
	}
	return &App{Tracker: tracker, Logger: logger, Placeholder: placeholder}, nil
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": errCode, "message": message}})
}

// fail maps a domain error onto its HTTP status and error envelope.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNetworkTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionBusy), errors.Is(err, domain.ErrNoActiveJob):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrSubmission), errors.Is(err, domain.ErrInterrupt), errors.Is(err, domain.ErrPoll), errors.Is(err, domain.ErrProtocol):
		status = http.StatusBadGateway
	case errors.Is(err, compose.ErrNothingToCompose), errors.Is(err, ErrNoResults):
		status, code = http.StatusNotFound, "no_results"
	case errors.Is(err, ErrDownloadExpired):
		status, code = http.StatusGone, "download_expired"
	case errors.Is(err, domain.ErrComposition):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("console: request failed")
	}
	a.error(w, status, code, err.Error())
}
