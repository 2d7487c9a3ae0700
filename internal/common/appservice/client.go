// Package appservice is a client for the application service's tenant API.
package appservice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tenant-provisioning/internal/common/errors"
	httpclient "tenant-provisioning/internal/common/http"
)

type Client struct {
	baseURL        string
	apiToken       string
	requestTimeout time.Duration
	httpClient     *httpclient.Client
}

// CreateTenantRequest is the body of POST /api/tenants.
type CreateTenantRequest struct {
	Name          string `json:"name"`
	IdentityOrgID string `json:"identityOrgId"`
	Domain        string `json:"domain,omitempty"`
}

type CreateTenantResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProgressResponse is one read of a tenant's provisioning progress channel.
type ProgressResponse struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewClient builds a client. The transport has no overall timeout; every
// call runs under a context deadline instead, so create-tenant can be given a
// longer one than the progress reads.
func NewClient(baseURL, apiToken string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiToken:       apiToken,
		requestTimeout: requestTimeout,
		httpClient:     httpclient.NewClient(0),
	}
}

func (c *Client) headers() map[string]string {
	if c.apiToken == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiToken}
}

// CreateTenant asks the application service to create a tenant and returns
// its id once the record is durable. The caller's context bounds the call.
//
// Transport errors are returned as-is. A gateway 408/504 is returned as
// TRANSPORT_TIMEOUT; any other non-2xx status as TENANT_CREATION_FAILED
// carrying the service's reason.
// A 2xx without a tenant id is TENANT_CREATION_FAILED too.
func (c *Client) CreateTenant(ctx context.Context, req CreateTenantRequest) (int64, error) {
	endpoint := fmt.Sprintf("%s/api/tenants", c.baseURL)

	resp, err := c.httpClient.DoJSON(ctx, http.MethodPost, endpoint, c.headers(), req)
	if err != nil {
		return 0, err
	}

	if httpclient.IsTimeoutStatus(resp.StatusCode) {
		return 0, errors.NewTransportTimeoutError("application-service",
			fmt.Errorf("status %d from create-tenant", resp.StatusCode))
	}

	if !resp.OK() {
		return 0, errors.NewTenantCreationFailedError(req.Name, failureReason(resp))
	}

	var created CreateTenantResponse
	if err := resp.Decode(&created); err != nil {
		return 0, errors.NewTenantCreationFailedError(req.Name, err.Error())
	}
	if created.ID == 0 {
		return 0, errors.NewTenantCreationFailedError(req.Name, "create-tenant response carried no tenant id")
	}
	return created.ID, nil
}

// ReadProgress returns the current raw status signal for a tenant.
func (c *Client) ReadProgress(ctx context.Context, tenantName string) (string, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/api/tenants/%s/progress", c.baseURL, url.PathEscape(tenantName))

	resp, err := c.httpClient.DoJSON(ctx, http.MethodGet, endpoint, c.headers(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to read progress: %w", err)
	}
	if !resp.OK() {
		return "", &errors.StandardError{
			Code:      errors.ErrCodeApplicationAPIError,
			Message:   "Failed to read provisioning progress",
			Details:   fmt.Sprintf("status %d: %s", resp.StatusCode, failureReason(resp)),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}

	var progress ProgressResponse
	if err := resp.Decode(&progress); err != nil {
		return "", err
	}
	return progress.Status, nil
}

// HealthCheck calls GET /health.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.httpClient.DoJSON(ctx, http.MethodGet, c.baseURL+"/health", c.headers(), nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("application service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func failureReason(resp *httpclient.Response) string {
	var body errorResponse
	if err := resp.Decode(&body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(resp.Body)); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
