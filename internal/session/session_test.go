package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"calligraphy/internal/domain"
)

// fakeAPI replays a scripted sequence of poll results; the last entry
// repeats. Once interrupted it reports the job as cancelled.
type fakeAPI struct {
	mu           sync.Mutex
	jobID        string
	startErr     error
	polls        []pollStep
	interruptErr error
	cancelOnAck  bool

	starts     []string
	pollCount  int
	interrupts []string
	acked      bool
}

type pollStep struct {
	job domain.Job
	err error
}

func (f *fakeAPI) StartJob(ctx context.Context, inputText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, inputText)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.jobID, nil
}

func (f *fakeAPI) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jobID != f.jobID {
		return domain.Job{}, fmt.Errorf("%w: unknown job %s", domain.ErrPoll, jobID)
	}
	if f.acked && f.cancelOnAck {
		return domain.Job{ID: jobID, Status: domain.JobStatusCancelled}, nil
	}
	idx := min(f.pollCount, len(f.polls)-1)
	f.pollCount++
	step := f.polls[idx]
	step.job.ID = jobID
	return step.job, step.err
}

func (f *fakeAPI) InterruptJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts = append(f.interrupts, jobID)
	if f.interruptErr != nil {
		return f.interruptErr
	}
	f.acked = true
	return nil
}

func (f *fakeAPI) counts() (starts, polls, interrupts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts), f.pollCount, len(f.interrupts)
}

type recorder struct {
	mu      sync.Mutex
	updates []domain.StatusUpdate
	first   chan struct{}
	once    sync.Once
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{})}
}

func (r *recorder) record(u domain.StatusUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.updates))
	for i, u := range r.updates {
		out[i] = u.Text()
	}
	return out
}

func newTestSession(api API, rec *recorder) *Session {
	opts := Options{PollInterval: time.Millisecond}
	if rec != nil {
		opts.OnStatus = rec.record
	}
	return New(api, opts)
}

func TestRunCompletesAfterWaitingAndRunning(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusWaiting, PlaceInQueue: 3}},
		{job: domain.Job{Status: domain.JobStatusRunning, Message: "diffusing"}},
		{job: domain.Job{Status: domain.JobStatusCompleted, Result: []domain.WordResult{{Word: "永", Success: true, ImageID: "img1"}}}},
	}}
	rec := newRecorder()
	s := newTestSession(api, rec)

	job, err := s.Run(context.Background(), "永")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if job.ID != "abc123" || job.Status != domain.JobStatusCompleted {
		t.Fatalf("job = %+v", job)
	}
	if len(job.Result) != 1 || job.Result[0].ImageID != "img1" || !job.Result[0].Success {
		t.Fatalf("result = %+v", job.Result)
	}
	want := []string{"Waiting in queue at position 3", "diffusing", ""}
	got := rec.texts()
	if len(got) != len(want) {
		t.Fatalf("updates = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("update %d = %q, want %q", i, got[i], want[i])
		}
	}
	snap := s.Snapshot()
	if snap.State != StateIdle || snap.JobID != "" || snap.Outcome != StateCompleted {
		t.Fatalf("snapshot after completion = %+v", snap)
	}
}

func TestSubmitRejectsEmptyInputWithoutNetwork(t *testing.T) {
	api := &fakeAPI{jobID: "abc123"}
	s := newTestSession(api, nil)

	_, err := s.Run(context.Background(), "")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if starts, polls, _ := api.counts(); starts != 0 || polls != 0 {
		t.Fatalf("network used: starts=%d polls=%d", starts, polls)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSubmitAcceptsWhitespaceAndNormalizes(t *testing.T) {
	api := &fakeAPI{jobID: "abc123"}
	s := newTestSession(api, nil)
	if _, err := s.Submit(context.Background(), "e\u0301 "); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if api.starts[0] != "\u00e9 " {
		t.Fatalf("submitted text = %q, want NFC form", api.starts[0])
	}
}

func TestInterruptWithoutActiveJob(t *testing.T) {
	api := &fakeAPI{jobID: "abc123"}
	s := newTestSession(api, nil)

	err := s.Interrupt(context.Background())
	if !errors.Is(err, domain.ErrNoActiveJob) {
		t.Fatalf("expected ErrNoActiveJob, got %v", err)
	}
	if err.Error() != "no ongoing generation" {
		t.Fatalf("message = %q", err.Error())
	}
	if _, _, interrupts := api.counts(); interrupts != 0 {
		t.Fatalf("interrupt request issued without an active job")
	}
}

func TestUnknownStatusAbortsWithProtocolError(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusWaiting, PlaceInQueue: 1}},
		{job: domain.Job{Status: domain.JobStatus("paused")}},
	}}
	s := newTestSession(api, nil)

	_, err := s.Run(context.Background(), "永")
	if !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if snap := s.Snapshot(); snap.State != StateIdle || snap.JobID != "" {
		t.Fatalf("context not cleared: %+v", snap)
	}
	if _, polls, _ := api.counts(); polls != 2 {
		t.Fatalf("polls = %d, want 2", polls)
	}
}

func TestProtocolErrorFromClientClearsContext(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{err: fmt.Errorf("%w: unknown job status %q", domain.ErrProtocol, "paused")},
	}}
	s := newTestSession(api, nil)

	if _, err := s.Run(context.Background(), "永"); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
	if s.JobID() != "" {
		t.Fatalf("job id still set")
	}
}

func TestCompletedWithoutResultIsProtocolError(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusCompleted}},
	}}
	s := newTestSession(api, nil)

	if _, err := s.Run(context.Background(), "永"); !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestFailedJobCarriesMessage(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusFailed, ErrorMessage: "CUDA out of memory"}},
	}}
	rec := newRecorder()
	s := newTestSession(api, rec)

	job, err := s.Run(context.Background(), "永")
	if !errors.Is(err, domain.ErrJobFailed) {
		t.Fatalf("expected ErrJobFailed, got %v", err)
	}
	if job.ErrorMessage != "CUDA out of memory" {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	if got := rec.texts(); len(got) != 1 || got[0] != "CUDA out of memory" {
		t.Fatalf("updates = %q", got)
	}
	if s.Snapshot().Outcome != StateFailed {
		t.Fatalf("outcome = %s", s.Snapshot().Outcome)
	}
}

func TestEveryTickIsPublished(t *testing.T) {
	running := pollStep{job: domain.Job{Status: domain.JobStatusRunning, Message: "Generating 1/1 characters"}}
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		running, running, running,
		{job: domain.Job{Status: domain.JobStatusCompleted, Result: []domain.WordResult{}}},
	}}
	rec := newRecorder()
	s := newTestSession(api, rec)

	if _, err := s.Run(context.Background(), "永"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if got := rec.texts(); len(got) != 4 {
		t.Fatalf("updates = %q, want 4 ticks", got)
	}
}

func TestPanickingCallbackDoesNotStopLoop(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusWaiting}},
		{job: domain.Job{Status: domain.JobStatusCompleted, Result: []domain.WordResult{}}},
	}}
	s := New(api, Options{
		PollInterval: time.Millisecond,
		OnStatus:     func(domain.StatusUpdate) { panic("display detached") },
	})

	if _, err := s.Run(context.Background(), "永"); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if _, polls, _ := api.counts(); polls != 2 {
		t.Fatalf("polls = %d, want 2", polls)
	}
}

func TestSecondSubmitIsBusy(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{{job: domain.Job{Status: domain.JobStatusWaiting}}}}
	s := newTestSession(api, nil)

	if _, err := s.Submit(context.Background(), "永"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := s.Submit(context.Background(), "字"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	if starts, _, _ := api.counts(); starts != 1 {
		t.Fatalf("starts = %d", starts)
	}
}

func TestSubmitFailureReturnsToIdle(t *testing.T) {
	api := &fakeAPI{startErr: fmt.Errorf("%w: status 500", domain.ErrSubmission)}
	s := newTestSession(api, nil)

	if _, err := s.Run(context.Background(), "永"); !errors.Is(err, domain.ErrSubmission) {
		t.Fatalf("expected ErrSubmission, got %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}

func TestPollErrorIsTerminal(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusWaiting}},
		{err: fmt.Errorf("%w: %w", domain.ErrPoll, domain.ErrNetworkTimeout)},
		{job: domain.Job{Status: domain.JobStatusCompleted, Result: []domain.WordResult{}}},
	}}
	s := newTestSession(api, nil)

	_, err := s.Run(context.Background(), "永")
	if !errors.Is(err, domain.ErrNetworkTimeout) {
		t.Fatalf("expected ErrNetworkTimeout, got %v", err)
	}
	if _, polls, _ := api.counts(); polls != 2 {
		t.Fatalf("loop retried after failure: polls=%d", polls)
	}
}

func TestInterruptIsObservedOnNextTick(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", cancelOnAck: true, polls: []pollStep{
		{job: domain.Job{Status: domain.JobStatusRunning, Message: "Generating 1/4 characters"}},
	}}
	rec := newRecorder()
	s := newTestSession(api, rec)
	if _, err := s.Submit(context.Background(), "永字八法"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background())
		done <- err
	}()
	<-rec.first

	if err := s.Interrupt(context.Background()); err != nil {
		t.Fatalf("Interrupt error: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrJobCancelled) {
			t.Fatalf("expected ErrJobCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("poll loop did not observe cancellation")
	}
	if snap := s.Snapshot(); snap.State != StateIdle || snap.Outcome != StateCancelled {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestFailedInterruptStillClearsContext(t *testing.T) {
	api := &fakeAPI{
		jobID:        "abc123",
		interruptErr: errors.New("status 500"),
		polls:        []pollStep{{job: domain.Job{Status: domain.JobStatusRunning}}},
	}
	rec := newRecorder()
	s := New(api, Options{PollInterval: 50 * time.Millisecond, OnStatus: rec.record})
	if _, err := s.Submit(context.Background(), "永"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(context.Background())
		done <- err
	}()
	<-rec.first

	err := s.Interrupt(context.Background())
	if !errors.Is(err, domain.ErrInterrupt) {
		t.Fatalf("expected ErrInterrupt, got %v", err)
	}
	if s.JobID() != "" || s.State() != StateIdle {
		t.Fatalf("context not cleared after failed interrupt: %+v", s.Snapshot())
	}
	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrJobCancelled) {
			t.Fatalf("expected ErrJobCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("poll loop kept waiting for an abandoned job")
	}

	api.mu.Lock()
	api.jobID = "def456"
	api.mu.Unlock()
	if _, err := s.Submit(context.Background(), "字"); err != nil {
		t.Fatalf("submit after abandoned job: %v", err)
	}
}

func TestWaitHonoursContextCancellation(t *testing.T) {
	api := &fakeAPI{jobID: "abc123", polls: []pollStep{{job: domain.Job{Status: domain.JobStatusWaiting, PlaceInQueue: 9}}}}
	rec := newRecorder()
	s := New(api, Options{PollInterval: time.Hour, OnStatus: rec.record})
	if _, err := s.Submit(context.Background(), "永"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx)
		done <- err
	}()
	<-rec.first
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait ignored cancellation")
	}
	if s.State() != StateIdle {
		t.Fatalf("state = %s", s.State())
	}
}

func TestWaitWithoutSubmit(t *testing.T) {
	s := newTestSession(&fakeAPI{}, nil)
	if _, err := s.Wait(context.Background()); !errors.Is(err, domain.ErrNoActiveJob) {
		t.Fatalf("expected ErrNoActiveJob, got %v", err)
	}
}

// gatedAPI holds the second status request of job-a until released.
type gatedAPI struct {
	mu      sync.Mutex
	nextID  string
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedAPI) StartJob(ctx context.Context, inputText string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextID, nil
}

func (g *gatedAPI) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	g.mu.Lock()
	g.calls++
	hold := jobID == "job-a" && g.calls == 2
	g.mu.Unlock()
	if hold {
		close(g.entered)
		<-g.release
		return domain.Job{ID: jobID, Status: domain.JobStatusCompleted, Result: []domain.WordResult{{Word: "永", Success: true, ImageID: "img1"}}}, nil
	}
	return domain.Job{ID: jobID, Status: domain.JobStatusRunning, Message: "Generating"}, nil
}

func (g *gatedAPI) InterruptJob(ctx context.Context, jobID string) error {
	return errors.New("status 502")
}

func TestInFlightPollAfterFailedInterruptIsDiscarded(t *testing.T) {
	api := &gatedAPI{nextID: "job-a", entered: make(chan struct{}), release: make(chan struct{})}
	rec := newRecorder()
	s := New(api, Options{PollInterval: time.Millisecond, OnStatus: rec.record})
	if _, err := s.Submit(context.Background(), "永"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	type waitResult struct {
		job domain.Job
		err error
	}
	done := make(chan waitResult, 1)
	go func() {
		job, err := s.Wait(context.Background())
		done <- waitResult{job, err}
	}()
	<-api.entered

	if err := s.Interrupt(context.Background()); !errors.Is(err, domain.ErrInterrupt) {
		t.Fatalf("expected ErrInterrupt, got %v", err)
	}
	api.mu.Lock()
	api.nextID = "job-b"
	api.mu.Unlock()
	if _, err := s.Submit(context.Background(), "字"); err != nil {
		t.Fatalf("submit job-b: %v", err)
	}
	close(api.release)

	select {
	case res := <-done:
		if !errors.Is(res.err, domain.ErrJobCancelled) {
			t.Fatalf("expected ErrJobCancelled, got %v", res.err)
		}
		if res.job.Result != nil {
			t.Fatalf("abandoned job returned results: %+v", res.job.Result)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return")
	}

	snap := s.Snapshot()
	if snap.JobID != "job-b" || snap.State != StatePolling {
		t.Fatalf("job-b context disturbed: %+v", snap)
	}
	if snap.LastUpdate.JobID == "job-a" {
		t.Fatalf("stale job-a update published: %+v", snap.LastUpdate)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, u := range rec.updates {
		if u.Status == domain.JobStatusCompleted {
			t.Fatalf("completed status of abandoned job reached the callback")
		}
	}
}

// slowAPI takes delay to answer each status request and records timings.
type slowAPI struct {
	mu     sync.Mutex
	delay  time.Duration
	starts []time.Time
	ends   []time.Time
}

func (a *slowAPI) StartJob(ctx context.Context, inputText string) (string, error) {
	return "abc123", nil
}

func (a *slowAPI) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	a.mu.Lock()
	a.starts = append(a.starts, time.Now())
	n := len(a.starts)
	a.mu.Unlock()

	time.Sleep(a.delay)

	a.mu.Lock()
	a.ends = append(a.ends, time.Now())
	a.mu.Unlock()
	if n < 4 {
		return domain.Job{ID: jobID, Status: domain.JobStatusRunning}, nil
	}
	return domain.Job{ID: jobID, Status: domain.JobStatusCompleted, Result: []domain.WordResult{}}, nil
}

func (a *slowAPI) InterruptJob(ctx context.Context, jobID string) error { return nil }

func TestPollIntervalCountsFromEachResponse(t *testing.T) {
	const interval = 50 * time.Millisecond
	api := &slowAPI{delay: 30 * time.Millisecond}
	s := New(api, Options{PollInterval: interval})
	if _, err := s.Run(context.Background(), "永"); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.starts) != 4 {
		t.Fatalf("requests = %d, want 4", len(api.starts))
	}
	for i := 1; i < len(api.starts); i++ {
		gap := api.starts[i].Sub(api.ends[i-1])
		if gap < interval-5*time.Millisecond {
			t.Fatalf("gap before request %d = %s, want about %s", i+1, gap, interval)
		}
	}
}

// hangingAPI blocks status requests until the caller gives up.
type hangingAPI struct {
	entered chan struct{}
	once    sync.Once
}

func (h *hangingAPI) StartJob(ctx context.Context, inputText string) (string, error) {
	return "abc123", nil
}

func (h *hangingAPI) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	h.once.Do(func() { close(h.entered) })
	<-ctx.Done()
	return domain.Job{}, fmt.Errorf("%w: %w", domain.ErrPoll, ctx.Err())
}

func (h *hangingAPI) InterruptJob(ctx context.Context, jobID string) error { return nil }

func TestCancellationDuringRequestIsCancelled(t *testing.T) {
	api := &hangingAPI{entered: make(chan struct{})}
	s := New(api, Options{PollInterval: time.Millisecond})
	if _, err := s.Submit(context.Background(), "永"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx)
		done <- err
	}()
	<-api.entered
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if domain.ErrorCode(err) == "poll_error" {
			t.Fatalf("cancellation reported as poll error")
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait ignored cancellation")
	}
	if snap := s.Snapshot(); snap.State != StateIdle || snap.Outcome != StateCancelled {
		t.Fatalf("snapshot = %+v", snap)
	}
}
