package console

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"calligraphy/internal/compose"
	"calligraphy/internal/middleware"
)

// RouterOptions carries the cross-cutting settings of the console router.
type RouterOptions struct {
	AllowedOrigins  []string
	SubmitRateLimit int
}

func NewRouter(app *App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, middleware.RequestID, middleware.Logger(app.Logger), chimw.Recoverer, middleware.CORS(opts.AllowedOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.SubmitRateLimit, time.Minute)).Post("/", app.CreateJob)
		r.Get("/current", app.CurrentJob)
		r.Post("/current/interrupt", app.InterruptJob)
	})

	r.Get("/v1/downloads/{variant}", app.Download)
	r.Get(compose.PlaceholderPath, app.PlaceholderImage)

	return r
}
