// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/bct8925/sftools-sub004/pkg/core"
)

const (
	StateJobComplete = "JobComplete"
	StateFailed      = "Failed"
	StateAborted     = "Aborted"

	DefaultAPIVersion = "62.0"
)

var errJobPending = errors.New("bulk job still running")

// Job is the subset of a Bulk API 2.0 query job the proxy reports back.
type Job struct {
	ID                     string `json:"id"`
	Operation              string `json:"operation"`
	Object                 string `json:"object"`
	State                  string `json:"state"`
	ErrorMessage           string `json:"errorMessage,omitempty"`
	NumberRecordsProcessed int64  `json:"numberRecordsProcessed"`
	Retries                int    `json:"retries"`
	TotalProcessingTime    int64  `json:"totalProcessingTime"`
}

// Chunk is one locator page of CSV query results.
type Chunk struct {
	Data            []byte
	Locator         string
	NumberOfRecords int
}

type Options struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxWait         time.Duration
	Logger          *slog.Logger
}

// Client polls Bulk API 2.0 query jobs and downloads their results.
type Client struct {
	http   *resty.Client
	opts   Options
	logger *slog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		http:   resty.New().SetTimeout(opts.Timeout),
		opts:   opts,
		logger: logger,
	}
}

func jobURL(creds core.Credentials, jobID string) string {
	version := creds.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	return fmt.Sprintf("%s/services/data/v%s/jobs/query/%s",
		strings.TrimRight(creds.InstanceURL, "/"), strings.TrimPrefix(version, "v"), jobID)
}

func (c *Client) request(ctx context.Context, creds core.Credentials) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken)
}

// WaitForJob polls the job on an exponential schedule until it reaches a
// terminal state or MaxWait elapses.
func (c *Client) WaitForJob(ctx context.Context, creds core.Credentials, jobID string) (*Job, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", core.ErrInvalidRequest)
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = c.opts.InitialInterval
	boff.MaxInterval = c.opts.MaxInterval
	boff.MaxElapsedTime = c.opts.MaxWait

	var job *Job
	poll := func() error {
		var current Job
		resp, err := c.request(ctx, creds).
			SetResult(&current).
			Get(jobURL(creds, jobID))
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("%w: poll job %s: %v", core.ErrUpstream, jobID, err)
		}
		if resp.IsError() {
			return backoff.Permanent(fmt.Errorf("%w: poll job %s: %s: %s",
				core.ErrUpstream, jobID, resp.Status(), strings.TrimSpace(resp.String())))
		}

		job = &current
		switch current.State {
		case StateJobComplete:
			return nil
		case StateFailed, StateAborted:
			msg := current.ErrorMessage
			if msg == "" {
				msg = "job " + strings.ToLower(current.State)
			}
			return backoff.Permanent(fmt.Errorf("%w: %s: %s", core.ErrJobFailed, jobID, msg))
		default:
			return errJobPending
		}
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("bulk job not ready", "job_id", jobID, "error", err, "retry_in", wait)
	}

	if err := backoff.RetryNotify(poll, backoff.WithContext(boff, ctx), notify); err != nil {
		if errors.Is(err, errJobPending) {
			return job, fmt.Errorf("%w: %s did not finish within %s", core.ErrJobFailed, jobID, c.opts.MaxWait)
		}
		return job, err
	}

	c.logger.Info("bulk job complete", "job_id", jobID, "records", job.NumberRecordsProcessed)
	return job, nil
}

// Results downloads one page of CSV results. An empty locator requests the
// first page; the returned Locator is empty on the last page.
func (c *Client) Results(ctx context.Context, creds core.Credentials, jobID, locator string, maxRecords int) (*Chunk, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", core.ErrInvalidRequest)
	}

	r := c.request(ctx, creds).SetHeader("Accept", "text/csv")
	if locator != "" {
		r.SetQueryParam("locator", locator)
	}
	if maxRecords > 0 {
		r.SetQueryParam("maxRecords", strconv.Itoa(maxRecords))
	}

	resp, err := r.Get(jobURL(creds, jobID) + "/results")
	if err != nil {
		return nil, fmt.Errorf("%w: results %s: %v", core.ErrUpstream, jobID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: results %s: %s: %s",
			core.ErrUpstream, jobID, resp.Status(), strings.TrimSpace(resp.String()))
	}

	next := resp.Header().Get("Sforce-Locator")
	if next == "null" {
		next = ""
	}
	count, _ := strconv.Atoi(resp.Header().Get("Sforce-NumberOfRecords"))

	return &Chunk{
		Data:            resp.Body(),
		Locator:         next,
		NumberOfRecords: count,
	}, nil
}

// MarshalJSON renders the chunk metadata with the CSV inline.
func (c Chunk) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CSV             string `json:"csv"`
		Locator         string `json:"locator,omitempty"`
		NumberOfRecords int    `json:"numberOfRecords"`
	}{string(c.Data), c.Locator, c.NumberOfRecords})
}
