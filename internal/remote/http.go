package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/wzl2223096755/AFitness-sub001/internal/errors"
	"github.com/wzl2223096755/AFitness-sub001/internal/models"
)

// DefaultPaths maps each domain to its collection endpoint.
var DefaultPaths = map[models.Domain]string{
	models.DomainTraining:  "/training/records",
	models.DomainNutrition: "/nutrition/records",
	models.DomainRecovery:  "/recovery/records",
}

// HTTPConfig holds REST client configuration.
type HTTPConfig struct {
	BaseURL string
	// Token is sent as a bearer token when non-empty.
	Token   string
	Timeout time.Duration
	Paths   map[models.Domain]string
	// HealthPath is requested by Ping.
	HealthPath string
}

// HTTPClient sends sync items to the REST backend.
type HTTPClient struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Paths == nil {
		config.Paths = DefaultPaths
	}
	if config.HealthPath == "" {
		config.HealthPath = "/health"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &HTTPClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Register installs the client on every route of r.
func (c *HTTPClient) Register(r *Router) {
	for _, d := range models.Domains {
		r.Handle(d, models.ActionCreate, c.Create)
		r.Handle(d, models.ActionUpdate, c.Update)
		r.Handle(d, models.ActionDelete, c.Delete)
	}
}

// Send implements Dispatcher.
func (c *HTTPClient) Send(ctx context.Context, item models.SyncItem) error {
	switch item.Action {
	case models.ActionCreate:
		return c.Create(ctx, item)
	case models.ActionUpdate:
		return c.Update(ctx, item)
	case models.ActionDelete:
		return c.Delete(ctx, item)
	}
	return apperrors.New(apperrors.ErrSyncRejected, fmt.Sprintf("unsupported action %q", item.Action))
}

// Create POSTs the payload to the domain collection. A 409 means the
// entity already exists from an earlier attempt and counts as success.
func (c *HTTPClient) Create(ctx context.Context, item models.SyncItem) error {
	endpoint, err := c.endpoint(item, false)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, endpoint, item, http.StatusConflict)
}

// Update PUTs the payload to the entity resource.
func (c *HTTPClient) Update(ctx context.Context, item models.SyncItem) error {
	endpoint, err := c.endpoint(item, true)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, endpoint, item)
}

// Delete DELETEs the entity resource. A 404 means it is already gone and
// counts as success.
func (c *HTTPClient) Delete(ctx context.Context, item models.SyncItem) error {
	endpoint, err := c.endpoint(item, true)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, endpoint, item, http.StatusNotFound)
}

// Ping checks that the backend answers its health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+c.config.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Network("health check failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Network(fmt.Sprintf("health check returned status %d", resp.StatusCode), nil)
	}
	return nil
}

func (c *HTTPClient) endpoint(item models.SyncItem, withID bool) (string, error) {
	path, ok := c.config.Paths[item.Domain]
	if !ok {
		return "", apperrors.New(apperrors.ErrSyncRejected, fmt.Sprintf("no endpoint for domain %q", item.Domain))
	}
	endpoint := c.config.BaseURL + path
	if !withID {
		return endpoint, nil
	}
	id := item.EntityID()
	if id == "" {
		return "", apperrors.New(apperrors.ErrSyncRejected,
			fmt.Sprintf("%s of %s item %s has no entity id", item.Action, item.Domain, item.ID))
	}
	return endpoint + "/" + url.PathEscape(id), nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}
}

// do executes a request and maps the response. Statuses in alsoOK are
// treated as success.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, item models.SyncItem, alsoOK ...int) error {
	var body io.Reader
	if method != http.MethodDelete {
		body = bytes.NewReader(item.Payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSyncRejected, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Network(fmt.Sprintf("%s %s failed", method, endpoint), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	for _, code := range alsoOK {
		if resp.StatusCode == code {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("%s %s returned status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	if retryableStatus(resp.StatusCode) {
		return apperrors.New(apperrors.ErrNetwork, msg)
	}
	return apperrors.New(apperrors.ErrSyncRejected, msg)
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
