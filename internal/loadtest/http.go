package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	service "github.com/okian/ascend/internal/app"
	"github.com/okian/ascend/internal/domain/progression"
	"github.com/okian/ascend/pkg/logger"
)

// HTTPClient wraps http.Client with timeout.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Get performs a GET request and decodes a 200 body into out.
func (c *HTTPClient) Get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, http.StatusOK, out)
}

// Post performs a POST request with a JSON body and decodes the reply into
// out when the status equals want.
func (c *HTTPClient) Post(ctx context.Context, path string, body any, want int, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, want, out)
}

func (c *HTTPClient) do(req *http.Request, want int, out any) (int, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// onboard creates a progression for every user.
func onboard(ctx context.Context, client *HTTPClient, users []string) (int, error) {
	for i, u := range users {
		var st progression.State
		if _, err := client.Post(ctx, "/progressions", map[string]string{"user_id": u}, http.StatusCreated, &st); err != nil {
			return i, fmt.Errorf("onboard %s: %w", u, err)
		}
	}
	return len(users), nil
}

// submit posts one submission synchronously.
func submit(ctx context.Context, client *HTTPClient, s Submission) Result {
	r := Result{Submission: s}
	r.Status, r.Err = client.Post(ctx, "/submissions", s, http.StatusOK, &r.Outcome)
	return r
}

// enqueue posts one submission to the asynchronous endpoint.
func enqueue(ctx context.Context, client *HTTPClient, s Submission) Result {
	r := Result{Submission: s}
	r.Status, r.Err = client.Post(ctx, "/submissions/async", s, http.StatusAccepted, nil)
	return r
}

// fetch reads the current snapshot of a user.
func fetch(ctx context.Context, client *HTTPClient, userID string) (service.Snapshot, error) {
	var snap service.Snapshot
	_, err := client.Get(ctx, "/progressions/"+userID, &snap)
	return snap, err
}

// tierTable mirrors the GET /tiers reply.
type tierTable struct {
	BandWidth int                `json:"band_width"`
	Tiers     []progression.Tier `json:"tiers"`
}

// fetchRanks rebuilds the server's rank table from GET /tiers.
func fetchRanks(ctx context.Context, client *HTTPClient) (*progression.Ranks, error) {
	var t tierTable
	if _, err := client.Get(ctx, "/tiers", &t); err != nil {
		return nil, err
	}
	return progression.NewRanks(t.Tiers, t.BandWidth)
}

// sendAll fans the submissions out over cfg.Workers goroutines and returns
// every result in no particular order.
func sendAll(ctx context.Context, cfg *Config, client *HTTPClient, subs []Submission,
	send func(context.Context, *HTTPClient, Submission) Result) []Result {
	log := logger.Get()

	var (
		sent   int64
		failed int64
	)

	// Progress reporting
	var lastReport atomic.Int64
	reportInterval := time.Second

	in := make(chan Submission, cfg.Workers*2)
	out := make(chan Result, cfg.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range in {
				r := send(ctx, client, s)
				atomic.AddInt64(&sent, 1)
				if r.Err != nil {
					atomic.AddInt64(&failed, 1)
					if cfg.Verbose {
						log.Warn(ctx, "submission failed",
							logger.String("submissionID", s.SubmissionID),
							logger.Int("status", r.Status),
							logger.Error(r.Err))
					}
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(reportInterval) && lastReport.CompareAndSwap(last, now) {
					log.Info(ctx, "progress",
						logger.Int64("sent", atomic.LoadInt64(&sent)),
						logger.Int("total", len(subs)),
						logger.Int64("failed", atomic.LoadInt64(&failed)))
				}
				out <- r
			}
		}()
	}

	go func() {
		defer close(in)
		for _, s := range subs {
			select {
			case <-ctx.Done():
				return
			case in <- s:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	results := make([]Result, 0, len(subs))
	for r := range out {
		results = append(results, r)
	}
	return results
}
