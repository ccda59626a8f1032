// Package jobapi talks to the calligraphy generation backend.
package jobapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calligraphy/internal/domain"
	"calligraphy/internal/infra"
)

// Options configures the backend client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Client performs HTTP calls against the job endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *infra.Logger
}

type startJobRequest struct {
	InputText string `json:"input_text"`
}

type startJobResponse struct {
	JobID string `json:"job_id"`
}

type interruptJobRequest struct {
	JobID string `json:"job_id"`
}

type retrieveJobResponse struct {
	JobID     string     `json:"job_id"`
	JobStatus string     `json:"job_status"`
	JobInfo   *jobInfo   `json:"job_info"`
	JobResult *jobResult `json:"job_result"`
}

type jobInfo struct {
	PlaceInQueue *int          `json:"place_in_queue"`
	RunningState *runningState `json:"running_state"`
	ErrorMessage string        `json:"error_message"`
}

type runningState struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type jobResult struct {
	GeneratedWordLocations []wordLocation `json:"generated_word_locations"`
}

type wordLocation struct {
	Word    string  `json:"word"`
	Success bool    `json:"success"`
	ImageID *string `json:"image_id"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = "http://127.0.0.1:6701/fyp23"
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		timeout:    timeout,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StartJob submits inputText and returns the server-assigned job id.
func (c *Client) StartJob(ctx context.Context, inputText string) (string, error) {
	body, err := json.Marshal(startJobRequest{InputText: inputText})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", domain.ErrSubmission, err)
	}
	raw, status, err := c.do(ctx, http.MethodPost, c.endpoint("/start_job", nil), body)
	if err != nil {
		return "", wrapTransport(domain.ErrSubmission, err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrSubmission, status, snippet(raw))
	}
	var out startJobResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", domain.ErrSubmission, err)
	}
	jobID := strings.TrimSpace(out.JobID)
	if jobID == "" {
		return "", fmt.Errorf("%w: empty job id", domain.ErrSubmission)
	}
	c.logger.Debug().Str("job_id", jobID).Msg("jobapi: job started")
	return jobID, nil
}

// RetrieveJob fetches the current snapshot of jobID.
func (c *Client) RetrieveJob(ctx context.Context, jobID string) (domain.Job, error) {
	raw, status, err := c.do(ctx, http.MethodGet, c.endpoint("/retrieve_job", url.Values{"job_id": {jobID}}), nil)
	if err != nil {
		return domain.Job{}, wrapTransport(domain.ErrPoll, err)
	}
	if status < 200 || status >= 300 {
		return domain.Job{}, fmt.Errorf("%w: status %d: %s", domain.ErrPoll, status, snippet(raw))
	}
	var out retrieveJobResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Job{}, fmt.Errorf("%w: decode response: %w", domain.ErrPoll, err)
	}
	return toJob(jobID, out)
}

// InterruptJob asks the backend to cancel jobID. Any non-2xx is an error.
func (c *Client) InterruptJob(ctx context.Context, jobID string) error {
	body, err := json.Marshal(interruptJobRequest{JobID: jobID})
	if err != nil {
		return fmt.Errorf("jobapi: encode interrupt: %w", err)
	}
	raw, status, err := c.do(ctx, http.MethodPost, c.endpoint("/interrupt_job", nil), body)
	if err != nil {
		return fmt.Errorf("jobapi: interrupt: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("jobapi: interrupt status %d: %s", status, snippet(raw))
	}
	return nil
}

// ImageURL returns where the rendered image for imageID can be fetched.
func (c *Client) ImageURL(imageID string) string {
	return c.endpoint("/get_image", url.Values{"image_id": {imageID}})
}

// FetchImage downloads an image and returns its bytes and content type.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("jobapi: invalid image url: %s", imageURL)
	}
	raw, status, err := c.do(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("jobapi: download image: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, "", fmt.Errorf("jobapi: download status %d", status)
	}
	mime := http.DetectContentType(raw)
	return raw, mime, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, classify(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classify(ctx, err)
	}
	return raw, resp.StatusCode, nil
}

// classify turns a per-request deadline into ErrNetworkTimeout while
// leaving caller cancellation untouched.
func classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrNetworkTimeout, err)
	}
	return err
}

func wrapTransport(kind, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrNetworkTimeout) {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return fmt.Errorf("%w: http request: %w", kind, err)
}

func toJob(requestedID string, resp retrieveJobResponse) (domain.Job, error) {
	status, ok := domain.ParseJobStatus(resp.JobStatus)
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: unknown job status %q", domain.ErrProtocol, resp.JobStatus)
	}
	job := domain.Job{ID: requestedID, Status: status}
	if id := strings.TrimSpace(resp.JobID); id != "" {
		job.ID = id
	}
	info := resp.JobInfo
	if info == nil {
		info = &jobInfo{}
	}
	switch status {
	case domain.JobStatusWaiting:
		if info.PlaceInQueue != nil {
			job.PlaceInQueue = max(*info.PlaceInQueue, 0)
		}
	case domain.JobStatusRunning:
		if info.RunningState != nil {
			job.StateName = info.RunningState.Name
			job.Message = info.RunningState.Message
			if job.Message == "" {
				job.Message = info.RunningState.Name
			}
		}
	case domain.JobStatusFailed:
		job.ErrorMessage = info.ErrorMessage
	case domain.JobStatusCompleted:
		if resp.JobResult == nil || resp.JobResult.GeneratedWordLocations == nil {
			return domain.Job{}, fmt.Errorf("%w: completed job %s has no result", domain.ErrProtocol, job.ID)
		}
		job.Result = make([]domain.WordResult, 0, len(resp.JobResult.GeneratedWordLocations))
		for _, loc := range resp.JobResult.GeneratedWordLocations {
			result := domain.WordResult{Word: loc.Word, Success: loc.Success}
			if loc.Success && loc.ImageID != nil {
				result.ImageID = strings.TrimSpace(*loc.ImageID)
			}
			job.Result = append(job.Result, result)
		}
	}
	return job, nil
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
