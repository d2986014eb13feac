package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/coastline-io/flotilla/pkg/api"
	"github.com/coastline-io/flotilla/pkg/log"
)

// HTTPRunner talks to the fleet's job service over its REST API
type HTTPRunner struct {
	client  *http.Client
	baseURL string
}

const defaultHTTPTimeout = 30 * time.Second

var (
	ErrJobService = errors.New("job service request failed")
	ErrJobStatus  = errors.New("job service returned HTTP error")
	ErrBadPayload = errors.New("job service returned malformed payload")
)

var _ Runner = (*HTTPRunner)(nil)

// NewHTTPRunner creates a runner bound to the given job service base URL
func NewHTTPRunner(baseURL string) *HTTPRunner {
	return &HTTPRunner{
		client:  &http.Client{Timeout: defaultHTTPTimeout},
		baseURL: baseURL,
	}
}

// Submit dispatches a script to a host. The tag makes submission
// idempotent on the service side: a resubmission with a known tag returns
// the existing job
func (r *HTTPRunner) Submit(
	ctx context.Context, host api.Host, script string, params api.Args,
	tag api.NodeKey,
) (string, error) {
	body, err := json.Marshal(map[string]any{
		"host":   host,
		"script": script,
		"params": params,
		"tag":    tag,
	})
	if err != nil {
		return "", err
	}

	res, err := r.do(ctx, http.MethodPost, "/jobs", body)
	if err != nil {
		slog.Error("Job submission failed",
			log.Host(host),
			slog.String("script", script),
			log.Error(err))
		return "", err
	}

	jobID := gjson.GetBytes(res, "job_id").String()
	if jobID == "" {
		return "", fmt.Errorf("%w: missing job_id", ErrBadPayload)
	}

	slog.Info("Job submitted",
		log.JobID(jobID),
		log.Host(host),
		slog.String("script", script),
		slog.String("tag", string(tag)))
	return jobID, nil
}

// Status fetches the current state of a job
func (r *HTTPRunner) Status(
	ctx context.Context, jobID string,
) (*Job, error) {
	res, err := r.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	parsed := gjson.ParseBytes(res)
	state := JobState(parsed.Get("state").String())
	if state == "" {
		return nil, fmt.Errorf("%w: missing state", ErrBadPayload)
	}

	job := &Job{
		ID:    jobID,
		State: state,
		Error: parsed.Get("error").String(),
	}
	if outputs := parsed.Get("outputs"); outputs.Exists() {
		var args api.Args
		if err := json.Unmarshal([]byte(outputs.Raw), &args); err != nil {
			return nil, fmt.Errorf("%w: outputs: %w", ErrBadPayload, err)
		}
		job.Outputs = args
	}
	return job, nil
}

// Abort asks the job service to stop a running job. Aborting a job that
// has already terminated is not an error
func (r *HTTPRunner) Abort(ctx context.Context, jobID string) error {
	_, err := r.do(
		ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil,
	)
	if err != nil {
		slog.Warn("Job abort failed",
			log.JobID(jobID),
			log.Error(err))
	}
	return err
}

// FindByTag looks up a previously submitted job by its idempotency tag
func (r *HTTPRunner) FindByTag(
	ctx context.Context, tag api.NodeKey,
) (string, bool, error) {
	res, err := r.do(ctx, http.MethodGet,
		"/jobs?tag="+url.QueryEscape(string(tag)), nil)
	if err != nil {
		var status *statusError
		if errors.As(err, &status) && status.code == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, err
	}

	jobID := gjson.GetBytes(res, "job_id").String()
	if jobID == "" {
		return "", false, nil
	}
	return jobID, true, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", ErrJobStatus, e.code)
}

func (e *statusError) Unwrap() error {
	return ErrJobStatus
}

func (r *HTTPRunner) do(
	ctx context.Context, method, path string, body []byte,
) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, r.baseURL+path, reader,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Flotilla-Engine/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobService, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJobService, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{
			code: resp.StatusCode,
			body: string(respBody),
		}
	}
	return respBody, nil
}
