package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/obsenv/exposurelog/internal/errs"
	"github.com/obsenv/exposurelog/internal/model"
	"github.com/obsenv/exposurelog/internal/resilience"
)

// Option configures the registry client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry overrides the retry policy for idempotent reads.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// Client talks to one exposure registry service over HTTP. Reads are
// idempotent, so transient failures are retried transparently.
type Client struct {
	index   int
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a client for the registry at baseURL. index is the
// caller-facing registry number (1-based) used in error reporting.
func NewClient(index int, baseURL string, opts ...Option) *Client {
	c := &Client{
		index:   index,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) URL() string {
	return c.baseURL
}

// FindExposures queries the registry's /exposures endpoint. The order_by
// allow-list is enforced here, before any request is sent.
func (c *Client) FindExposures(ctx context.Context, q ExposureQuery) ([]model.Exposure, error) {
	orderBy, err := q.Validate()
	if err != nil {
		return nil, err
	}

	// An empty (non-nil) membership list matches nothing; no need to ask
	// the registry.
	for _, list := range [][]string{
		q.ObsIDs, q.GroupNames, q.ObservationTypes, q.ObservationReasons,
		q.PhysicalFilters, q.TargetNames, q.SciencePrograms,
	} {
		if list != nil && len(list) == 0 {
			return []model.Exposure{}, nil
		}
	}

	params := url.Values{}
	params.Set("instrument", q.Instrument)
	addList(params, "obs_id", q.ObsIDs)
	addList(params, "group_name", q.GroupNames)
	addList(params, "observation_type", q.ObservationTypes)
	addList(params, "observation_reason", q.ObservationReasons)
	addList(params, "physical_filter", q.PhysicalFilters)
	addList(params, "target_name", q.TargetNames)
	addList(params, "science_program", q.SciencePrograms)
	addInt(params, "min_day_obs", q.MinDayObs)
	addInt(params, "max_day_obs", q.MaxDayObs)
	addInt(params, "min_seq_num", q.MinSeqNum)
	addInt(params, "max_seq_num", q.MaxSeqNum)
	addFloat(params, "min_tracking_ra", q.MinTrackingRA)
	addFloat(params, "max_tracking_ra", q.MaxTrackingRA)
	addFloat(params, "min_tracking_dec", q.MinTrackingDec)
	addFloat(params, "max_tracking_dec", q.MaxTrackingDec)
	if q.MinDate != nil {
		params.Set("min_date", q.MinDate.UTC().Format(time.RFC3339Nano))
	}
	if q.MaxDate != nil {
		params.Set("max_date", q.MaxDate.UTC().Format(time.RFC3339Nano))
	}
	addList(params, "order_by", orderBy)
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	var exposures []model.Exposure
	if err := c.getJSON(ctx, "/exposures", params, &exposures); err != nil {
		return nil, err
	}
	if exposures == nil {
		exposures = []model.Exposure{}
	}
	return exposures, nil
}

// instrumentsResponse is the /instruments payload.
type instrumentsResponse struct {
	Instruments []string `json:"instruments"`
}

// Instruments reports which instruments the registry contains.
func (c *Client) Instruments(ctx context.Context) ([]string, error) {
	var resp instrumentsResponse
	if err := c.getJSON(ctx, "/instruments", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instruments, nil
}

// getJSON performs a rate-limited, retried GET and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return eris.Wrap(err, "registry: build request")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-ID", uuid.NewString())

		resp, err := c.http.Do(req)
		if err != nil {
			return resilience.NewTransientError(err, 0)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return resilience.NewTransientError(eris.Wrap(err, "registry: read body"), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("registry: GET %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(err, resp.StatusCode)
			}
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return eris.Wrapf(err, "registry: decode %s response", path)
		}
		return nil
	})
	if err != nil {
		return &errs.RegistryError{Registry: c.index, Err: err}
	}
	return nil
}

func addList(params url.Values, key string, values []string) {
	for _, v := range values {
		params.Add(key, v)
	}
}

func addInt(params url.Values, key string, v *int) {
	if v != nil {
		params.Set(key, strconv.Itoa(*v))
	}
}

func addFloat(params url.Values, key string, v *float64) {
	if v != nil {
		params.Set(key, strconv.FormatFloat(*v, 'g', -1, 64))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s... (%d bytes)", b[:n], len(b))
}

var _ Registry = (*Client)(nil)
