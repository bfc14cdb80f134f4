package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"merchpulse.io/pulse/internal/config"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
	"merchpulse.io/pulse/internal/pkg/logger"
)

// Client lists commerce resources page by page. An empty cursor starts
// from the beginning; callers follow NextCursor until HasMore is false.
type Client interface {
	ListCustomers(ctx context.Context, creds Credentials, cursor string, pageSize int) (*CustomerPage, error)
	ListOrders(ctx context.Context, creds Credentials, cursor string, pageSize int) (*OrderPage, error)
}

// HTTPClient is the production Client backed by the platform's REST API.
// All requests share one rate limiter so concurrent sync jobs cannot
// exceed the platform's request budget.
type HTTPClient struct {
	http       *http.Client
	baseURL    string
	apiVersion string
	limiter    *rate.Limiter
}

// NewHTTPClient builds a client from platform config.
func NewHTTPClient(cfg config.PlatformConfig) *HTTPClient {
	return &HTTPClient{
		http: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
	}
}

// ListCustomers fetches one page of customers.
func (c *HTTPClient) ListCustomers(ctx context.Context, creds Credentials, cursor string, pageSize int) (*CustomerPage, error) {
	var page CustomerPage
	if err := c.list(ctx, creds, "customers", cursor, pageSize, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListOrders fetches one page of orders.
func (c *HTTPClient) ListOrders(ctx context.Context, creds Credentials, cursor string, pageSize int) (*OrderPage, error) {
	var page OrderPage
	if err := c.list(ctx, creds, "orders", cursor, pageSize, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *HTTPClient) list(ctx context.Context, creds Credentials, resource, cursor string, pageSize int, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint, err := c.resourceURL(creds.ShopDomain, resource, cursor, pageSize)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSyncUpstreamFail, "build platform request URL", http.StatusBadGateway)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSyncUpstreamFail, "build platform request", http.StatusBadGateway)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Access-Token", creds.AccessToken)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeSyncUpstreamFail, "platform request failed", http.StatusBadGateway).
			WithParams(map[string]interface{}{"resource": resource})
	}
	defer resp.Body.Close()

	logger.Debug("Platform API call",
		zap.String("resource", resource),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return apperrors.New(apperrors.CodeSyncUpstreamFail,
			fmt.Sprintf("platform returned %d for %s", resp.StatusCode, resource),
			http.StatusBadGateway).
			WithParams(map[string]interface{}{"body": string(body)})
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeSyncUpstreamFail, "decode platform response", http.StatusBadGateway)
	}
	return nil
}

func (c *HTTPClient) resourceURL(shopDomain, resource, cursor string, pageSize int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, shopDomain, c.apiVersion, resource)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
