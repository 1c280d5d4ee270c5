// Package ckan reads the Latvian open-data portal's datastore_search API,
// which publishes the national meteorological observation feed.
package ckan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultBaseURL is the data.gov.lv datastore_search endpoint.
const DefaultBaseURL = "https://data.gov.lv/dati/lv/api/action/datastore_search"

// Resource IDs of the meteorological dataset on data.gov.lv.
const (
	// ResourceObservations holds the operational observation rows (many).
	ResourceObservations = "17460efb-ae99-4d1d-8144-1068f184b05f"
	// ResourceAbbreviations is the metric abbreviation dictionary (<= 50 rows).
	ResourceAbbreviations = "38b462ac-08b9-4168-9d6e-cbaedc2e775d"
	// ResourceStations is the station register (<= 300 rows).
	ResourceStations = "c32c7afd-0d05-44fd-8b24-1de85b4bf11d"
)

// MaxBatch is the portal's hard limit on a single page.
const MaxBatch = 32000

var (
	// ErrUnsuccessful is returned when CKAN answers with success=false.
	ErrUnsuccessful = errors.New("ckan returned unsuccessful response")
	// ErrNoRecords is returned when a resource yields no rows at all.
	ErrNoRecords = errors.New("ckan returned no records")
)

// Record is one raw datastore row; values arrive untyped.
type Record map[string]interface{}

// Client pages through CKAN datastore resources with retries, backoff and
// a circuit breaker around every request.
type Client struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewClient creates a CKAN client. An empty baseURL selects data.gov.lv.
func NewClient(client *http.Client, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	cb := newCircuitBreaker(CircuitConfig{
		Name:        "ckan",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Client{
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

type searchEnvelope struct {
	Success bool `json:"success"`
	Result  struct {
		Total   *int     `json:"total"`
		Records []Record `json:"records"`
	} `json:"result"`
}

// Records fetches every row of a datastore resource, paging with the given
// batch size and honoring the reported total.
func (c *Client) Records(ctx context.Context, resourceID string, batch int) ([]Record, error) {
	if batch <= 0 || batch > MaxBatch {
		return nil, fmt.Errorf("invalid batch size %d (1..%d)", batch, MaxBatch)
	}

	var records []Record
	var total *int
	offset := 0

	for {
		env, err := c.page(ctx, resourceID, batch, offset)
		if err != nil {
			return nil, err
		}
		if !env.Success {
			return nil, fmt.Errorf("%w: resource %s", ErrUnsuccessful, resourceID)
		}
		if total == nil {
			total = env.Result.Total
		}
		if len(env.Result.Records) == 0 {
			break
		}

		records = append(records, env.Result.Records...)
		offset += batch
		if total != nil && offset >= *total {
			break
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: resource %s", ErrNoRecords, resourceID)
	}
	return records, nil
}

func (c *Client) page(ctx context.Context, resourceID string, limit, offset int) (*searchEnvelope, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("resource_id", resourceID)
		values.Set("limit", strconv.Itoa(limit))
		values.Set("offset", strconv.Itoa(offset))
		values.Set("include_total", "true")

		u := fmt.Sprintf("%s?%s", c.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return nil, fmt.Errorf("fetch resource %s: %w", resourceID, err)
	}
	defer resp.Body.Close()

	var env searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", resourceID, err)
	}
	return &env, nil
}
