package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"calligraphy/internal/compose"
	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
	"calligraphy/internal/pipeline"
	"calligraphy/internal/session"
)

var (
	// ErrNoResults is returned for downloads before any job has completed.
	ErrNoResults = errors.New("no generated results to download")
	// ErrDownloadExpired is returned once the download window has passed.
	ErrDownloadExpired = errors.New("download window has expired")
)

// Exporter renders downloads for a finished job.
type Exporter interface {
	Sources(results []domain.WordResult) []string
	Render(ctx context.Context, results []domain.WordResult) (int64, []pipeline.Artifact, error)
	Pack(stamp int64, artifacts []pipeline.Artifact) (pipeline.Artifact, error)
}

// rendition is the one render of a completed job that every download of
// that job is served from, so all variants share a stamp.
type rendition struct {
	stamp     int64
	artifacts []pipeline.Artifact
	bundle    *pipeline.Artifact
}

// TrackerOptions configures a Tracker.
type TrackerOptions struct {
	// DownloadWindow is how long results stay downloadable after completion.
	// Zero keeps them until the next submission.
	DownloadWindow time.Duration
	Logger         *infra.Logger
	Now            func() time.Time
}

// Tracker drives the console's single session in the background and keeps
// the results of the last completed job for download.
type Tracker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	session  *session.Session
	exporter Exporter
	window   time.Duration
	logger   *infra.Logger
	now      func() time.Time

	mu          sync.Mutex
	results     []domain.WordResult
	completedAt time.Time
	lastErr     error
	generation  int
	rendered    *rendition
	renderedGen int

	// renderMu serialises renders so concurrent downloads share one.
	renderMu sync.Mutex
}

// NewTracker constructs a Tracker. Background polling stops when Close is
// called.
func NewTracker(sess *session.Session, exporter Exporter, opts TrackerOptions) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		ctx:      ctx,
		cancel:   cancel,
		session:  sess,
		exporter: exporter,
		window:   opts.DownloadWindow,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		now:      now,
	}
}

// Start submits inputText and polls the job in the background.
func (t *Tracker) Start(ctx context.Context, inputText string) (string, error) {
	jobID, err := t.session.Submit(ctx, inputText)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionBusy) && !errors.Is(err, domain.ErrValidation) {
			t.setOutcome(nil, err)
		}
		return "", err
	}
	t.setOutcome(nil, nil)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		job, err := t.session.Wait(t.ctx)
		if err != nil {
			t.logger.Warn().Err(err).Str("job_id", jobID).Str("code", domain.ErrorCode(err)).Msg("console: job ended without results")
			t.setOutcome(nil, err)
			return
		}
		t.setOutcome(job.Result, nil)
	}()
	return jobID, nil
}

// Interrupt cancels the active job.
func (t *Tracker) Interrupt(ctx context.Context) error {
	return t.session.Interrupt(ctx)
}

// Close stops background polling and waits for it to exit.
func (t *Tracker) Close() {
	t.cancel()
	t.wg.Wait()
}

// View is the JSON shape of the console's current job.
type View struct {
	State          session.State `json:"state"`
	JobID          string        `json:"job_id,omitempty"`
	Status         string        `json:"status,omitempty"`
	StatusText     string        `json:"status_text,omitempty"`
	PlaceInQueue   int           `json:"place_in_queue,omitempty"`
	SeenAt         *time.Time    `json:"seen_at,omitempty"`
	Outcome        session.State `json:"outcome,omitempty"`
	Results        []ResultView  `json:"results,omitempty"`
	DownloadsUntil *time.Time    `json:"downloads_until,omitempty"`
	Error          *ErrorView    `json:"error,omitempty"`
}

// ResultView is one generated word with the URL its image is shown from.
type ResultView struct {
	Word     string `json:"word"`
	Success  bool   `json:"success"`
	ImageID  string `json:"image_id,omitempty"`
	ImageURL string `json:"image_url"`
}

// ErrorView carries the code and message of the last failure.
type ErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Current returns a snapshot of the session and last outcome.
func (t *Tracker) Current() View {
	snap := t.session.Snapshot()
	view := View{State: snap.State, JobID: snap.JobID, Outcome: snap.Outcome}
	if u := snap.LastUpdate; u.JobID != "" {
		view.Status = string(u.Status)
		view.StatusText = u.Text()
		view.PlaceInQueue = u.PlaceInQueue
		seen := u.SeenAt
		view.SeenAt = &seen
		if view.JobID == "" {
			view.JobID = u.JobID
		}
	}

	t.mu.Lock()
	results := t.results
	completedAt := t.completedAt
	lastErr := t.lastErr
	t.mu.Unlock()

	if lastErr != nil {
		view.Error = &ErrorView{Code: domain.ErrorCode(lastErr), Message: lastErr.Error()}
	}
	if results != nil {
		sources := t.exporter.Sources(results)
		view.Results = make([]ResultView, len(results))
		for i, r := range results {
			src := sources[i]
			if src == compose.PlaceholderURL {
				src = compose.PlaceholderPath
			}
			view.Results[i] = ResultView{Word: r.Word, Success: r.Success, ImageID: r.ImageID, ImageURL: src}
		}
		if t.window > 0 {
			until := completedAt.Add(t.window)
			view.DownloadsUntil = &until
		}
	}
	return view
}

// Download returns variant of the last completed job. The job is rendered
// on the first download and every later download reuses that render.
func (t *Tracker) Download(ctx context.Context, variant string) (pipeline.Artifact, error) {
	t.mu.Lock()
	results := t.results
	completedAt := t.completedAt
	gen := t.generation
	t.mu.Unlock()

	if results == nil {
		return pipeline.Artifact{}, ErrNoResults
	}
	if t.window > 0 && t.now().After(completedAt.Add(t.window)) {
		return pipeline.Artifact{}, ErrDownloadExpired
	}

	t.renderMu.Lock()
	defer t.renderMu.Unlock()

	t.mu.Lock()
	r := t.rendered
	if t.renderedGen != gen {
		r = nil
	}
	t.mu.Unlock()

	if r == nil {
		stamp, artifacts, err := t.exporter.Render(ctx, results)
		if err != nil {
			return pipeline.Artifact{}, err
		}
		r = &rendition{stamp: stamp, artifacts: artifacts}
		t.mu.Lock()
		if t.generation == gen {
			t.rendered, t.renderedGen = r, gen
		}
		t.mu.Unlock()
	}

	if variant == pipeline.VariantBundle {
		if r.bundle == nil {
			b, err := t.exporter.Pack(r.stamp, r.artifacts)
			if err != nil {
				return pipeline.Artifact{}, err
			}
			r.bundle = &b
		}
		return *r.bundle, nil
	}
	for _, a := range r.artifacts {
		if a.Variant == variant {
			return a, nil
		}
	}
	return pipeline.Artifact{}, fmt.Errorf("console: unknown variant %q", variant)
}

func (t *Tracker) setOutcome(results []domain.WordResult, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results = results
	t.lastErr = err
	t.generation++
	t.rendered = nil
	if results != nil {
		t.completedAt = t.now()
	} else {
		t.completedAt = time.Time{}
	}
}
