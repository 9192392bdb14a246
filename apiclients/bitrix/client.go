// Package bitrix is a client for the Bitrix24 REST API covering the crm products,
// deals and contacts used by the city caches, together with the catalog methods
// needed to find trade offers.
//
// Calls are made by POSTing JSON to {base}/{method}.json, where base is either an
// incoming webhook URL or, for an OAuth application, the portal's /rest/ URL with the
// access token sent as the `auth` parameter.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-querystring/query"
	"golang.org/x/oauth2"
)

// ErrAPI is matched by all errors reported by the Bitrix24 API itself.
var ErrAPI = errors.New("bitrix api error")

// APIError is an error response from the API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("bitrix api error (status %d): %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("bitrix api error (status %d): %s: %s", e.StatusCode, e.Code, e.Description)
}

// Is allows errors.Is(err, ErrAPI).
func (e *APIError) Is(target error) bool {
	return target == ErrAPI
}

// DealFieldLabels are the labels of the deal user fields read and written by the
// client.
type DealFieldLabels struct {
	WeddingDate string
	Prepayment  string
	Postpayment string
}

// Options configure portal specific field names.
type Options struct {
	// CityFieldTitle is the title of the product list property naming a city.
	CityFieldTitle string
	// ExcludedDealStage is left out of deal listings.
	ExcludedDealStage string
	DealFields        DealFieldLabels
	// LineItemWorkers bounds the concurrent product row requests of a deal listing.
	LineItemWorkers int
}

// DefaultOptions returns the options of the dress rental portal.
func DefaultOptions() Options {
	return Options{
		CityFieldTitle:    "город",
		ExcludedDealStage: "PREPAYMENT_INVOICE",
		DealFields: DealFieldLabels{
			WeddingDate: "Дата свадьбы",
			Prepayment:  "Сумма предоплаты",
			Postpayment: "Постоплата",
		},
		LineItemWorkers: 4,
	}
}

// Client is a wrapper for making calls to the Bitrix24 REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     oauth2.TokenSource // nil for webhook access
	opts       Options
	log        *slog.Logger
}

// NewClient creates a new client for the given base URL. If no httpClient is provided
// http.DefaultClient is used. Empty options take their default values.
func NewClient(baseURL string, httpClient *http.Client, opts Options, logger *slog.Logger) (*Client, error) {

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid bitrix base url %q", baseURL)
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		))
	}

	defaults := DefaultOptions()
	if opts.CityFieldTitle == "" {
		opts.CityFieldTitle = defaults.CityFieldTitle
	}
	if opts.DealFields == (DealFieldLabels{}) {
		opts.DealFields = defaults.DealFields
	}
	if opts.LineItemWorkers < 1 {
		opts.LineItemWorkers = defaults.LineItemWorkers
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		opts:       opts,
		log:        logger,
	}, nil
}

// authQuery is the query string sent with OAuth calls.
type authQuery struct {
	Auth string `url:"auth"`
}

// newRequest is a helper to create a new POST request for a REST method with a JSON
// body.
func (c *Client) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {

	requestURL := c.baseURL + method + ".json"
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token: %w", err)
		}
		v, err := query.Values(authQuery{Auth: tok.AccessToken})
		if err != nil {
			return nil, fmt.Errorf("failed to encode auth query: %w", err)
		}
		requestURL += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// do is a helper to execute an HTTP request and decode the JSON response. Non 2xx
// responses are returned as *APIError.
func do[T any](c *Client, req *http.Request, v *T) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: strings.TrimSpace(string(body))}
		var e struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Code = e.Error
			apiErr.Description = e.ErrorDescription
		}
		return nil, apiErr
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}

// call runs a single REST method, decoding its result into R.
func call[R any](ctx context.Context, c *Client, method string, params any) (envelope[R], error) {
	var env envelope[R]

	body, err := json.Marshal(params)
	if err != nil {
		return env, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}
	req, err := c.newRequest(ctx, method, body)
	if err != nil {
		return env, err
	}

	c.log.Debug("bitrix call", "method", method, "params", string(body))

	if _, err := do(c, req, &env); err != nil {
		return env, fmt.Errorf("%s: %w", method, err)
	}
	if env.Error != "" {
		return env, fmt.Errorf("%s: %w", method, &APIError{
			StatusCode:  http.StatusOK,
			Code:        env.Error,
			Description: env.ErrorDescription,
		})
	}
	return env, nil
}

// list fetches every page of a list method, following the `next` offsets. Each page
// result is decoded into R and its items extracted with items.
func list[R, T any](ctx context.Context, c *Client, method string, params map[string]any, items func(R) []T) ([]T, error) {

	var all []T
	start := 0
	for page := 1; ; page++ {
		p := maps.Clone(params)
		if p == nil {
			p = map[string]any{}
		}
		p["start"] = start

		env, err := call[R](ctx, c, method, p)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		got := items(env.Result)
		all = append(all, got...)

		if env.Next == nil || len(got) == 0 || *env.Next <= start {
			break
		}
		start = *env.Next
	}
	c.log.Debug("bitrix list", "method", method, "count", len(all))
	return all, nil
}

// itself returns a list page unchanged.
func itself[T any](page []T) []T { return page }
