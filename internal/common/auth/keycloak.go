// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"tenant-provisioning/internal/common/errors"
	httpclient "tenant-provisioning/internal/common/http"
)

// KeycloakClient talks to the Keycloak admin REST API for organization,
// membership and group management.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *httpclient.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Organization is a Keycloak organization representation.
type Organization struct {
	ID          string               `json:"id,omitempty"`
	Name        string               `json:"name"`
	Alias       string               `json:"alias,omitempty"`
	Enabled     bool                 `json:"enabled"`
	Description string               `json:"description,omitempty"`
	Domains     []OrganizationDomain `json:"domains,omitempty"`
	Attributes  map[string][]string  `json:"attributes,omitempty"`
}

type OrganizationDomain struct {
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// Group is a Keycloak group. SubGroups is only populated by search.
type Group struct {
	ID        string  `json:"id,omitempty"`
	Name      string  `json:"name"`
	Path      string  `json:"path,omitempty"`
	SubGroups []Group `json:"subGroups,omitempty"`
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// tokenLeeway refreshes the admin token slightly before Keycloak expires it.
const tokenLeeway = 10 * time.Second

// NewKeycloakClient creates a new instance of KeycloakClient.
func NewKeycloakClient(baseURL, realm, clientID, clientSecret string, timeout time.Duration) *KeycloakClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpclient.NewClient(timeout),
	}
}

// getAccessToken returns a cached admin token, fetching a new one with the
// client credentials flow when it is missing or about to expire.
func (k *KeycloakClient) getAccessToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.accessToken != "" && time.Now().Add(tokenLeeway).Before(k.tokenExpiry) {
		return k.accessToken, nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keycloak token request failed with status %d", resp.StatusCode)
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	k.accessToken = tokenResp.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return k.accessToken, nil
}

func (k *KeycloakClient) invalidateToken() {
	k.mu.Lock()
	k.accessToken = ""
	k.mu.Unlock()
}

// adminCall performs an authenticated admin API request. Transport errors
// are returned unwrapped so callers can tell timeouts apart.
func (k *KeycloakClient) adminCall(ctx context.Context, method, path string, payload interface{}) (*httpclient.Response, error) {
	token, err := k.getAccessToken(ctx)
	if err != nil {
		return nil, &errors.StandardError{
			Code:      errors.ErrCodeIdentityAuthFailed,
			Message:   "Failed to authenticate with Keycloak",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}

	endpoint := fmt.Sprintf("%s/admin/realms/%s%s", k.baseURL, k.realm, path)
	resp, err := k.httpClient.DoJSON(ctx, method, endpoint, map[string]string{
		"Authorization": "Bearer " + token,
	}, payload)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		k.invalidateToken()
	}
	return resp, nil
}

func (k *KeycloakClient) apiError(op string, resp *httpclient.Response) *errors.StandardError {
	return &errors.StandardError{
		Code:      errors.ErrCodeIdentityAPIError,
		Message:   fmt.Sprintf("Keycloak API error during %s", op),
		Details:   fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body))),
		Retryable: httpclient.IsTransientStatus(resp.StatusCode),
		Metadata:  map[string]interface{}{"statusCode": resp.StatusCode},
		Timestamp: time.Now().UTC(),
	}
}

// CreateOrganization creates an organization. A name or alias collision is
// returned as a KEYCLOAK_CONFLICT error.
func (k *KeycloakClient) CreateOrganization(ctx context.Context, org Organization) error {
	resp, err := k.adminCall(ctx, http.MethodPost, "/organizations", org)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return errors.NewConflictError("keycloak", fmt.Sprintf("organization %q", org.Name))
	case !resp.OK():
		return k.apiError("organization creation", resp)
	}
	return nil
}

// SearchOrganizations returns organizations matching name. Keycloak's search
// is a substring match; callers filter for the exact name.
func (k *KeycloakClient) SearchOrganizations(ctx context.Context, name string) ([]Organization, error) {
	path := "/organizations?briefRepresentation=false&search=" + url.QueryEscape(name)
	resp, err := k.adminCall(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, k.apiError("organization search", resp)
	}

	var orgs []Organization
	if err := resp.Decode(&orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

// AddOrganizationMember adds an existing user to an organization. A user
// that is already a member is not an error.
func (k *KeycloakClient) AddOrganizationMember(ctx context.Context, orgID, userID string) error {
	path := fmt.Sprintf("/organizations/%s/members", url.PathEscape(orgID))
	// Keycloak expects the bare user id as a JSON string.
	resp, err := k.adminCall(ctx, http.MethodPost, path, userID)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict || resp.OK() {
		return nil
	}
	return k.apiError("organization member add", resp)
}

// SearchGroups returns every group whose name matches, flattened out of the
// hierarchy Keycloak returns.
func (k *KeycloakClient) SearchGroups(ctx context.Context, name string) ([]Group, error) {
	path := "/groups?briefRepresentation=false&search=" + url.QueryEscape(name)
	resp, err := k.adminCall(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, k.apiError("group search", resp)
	}

	var tree []Group
	if err := resp.Decode(&tree); err != nil {
		return nil, err
	}
	return flattenGroups(tree), nil
}

func flattenGroups(groups []Group) []Group {
	var out []Group
	for _, g := range groups {
		children := g.SubGroups
		g.SubGroups = nil
		out = append(out, g)
		out = append(out, flattenGroups(children)...)
	}
	return out
}

// CreateGroup creates the group at path, e.g. "/{orgId}/Admins", creating a
// missing parent on the way. It returns the new group's id. Conflict on the
// leaf is returned as KEYCLOAK_CONFLICT.
func (k *KeycloakClient) CreateGroup(ctx context.Context, path string) (string, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "", errors.NewInvalidSetupRequestError(fmt.Sprintf("invalid group path %q", path))
	}

	parentID := ""
	for i, name := range segments {
		leaf := i == len(segments)-1
		current := "/" + strings.Join(segments[:i+1], "/")

		if !leaf {
			id, err := k.findGroupByPath(ctx, name, current)
			if err != nil {
				return "", err
			}
			if id != "" {
				parentID = id
				continue
			}
		}

		id, err := k.createGroup(ctx, parentID, name)
		if err != nil {
			if !leaf && errors.CodeOf(err) == errors.ErrCodeIdentityConflict {
				// parent created concurrently
				if id, err = k.findGroupByPath(ctx, name, current); err == nil && id != "" {
					parentID = id
					continue
				}
			}
			return "", err
		}
		parentID = id
	}
	return parentID, nil
}

func (k *KeycloakClient) findGroupByPath(ctx context.Context, name, path string) (string, error) {
	groups, err := k.SearchGroups(ctx, name)
	if err != nil {
		return "", err
	}
	for _, g := range groups {
		if g.Path == path {
			return g.ID, nil
		}
	}
	return "", nil
}

func (k *KeycloakClient) createGroup(ctx context.Context, parentID, name string) (string, error) {
	path := "/groups"
	if parentID != "" {
		path = fmt.Sprintf("/groups/%s/children", url.PathEscape(parentID))
	}

	resp, err := k.adminCall(ctx, http.MethodPost, path, Group{Name: name})
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return "", errors.NewConflictError("keycloak", fmt.Sprintf("group %q", name))
	case !resp.OK():
		return "", k.apiError("group creation", resp)
	}

	// 201 Created carries the id in the Location header.
	if location := resp.Header.Get("Location"); location != "" {
		parts := strings.Split(strings.TrimSuffix(location, "/"), "/")
		return parts[len(parts)-1], nil
	}

	var created Group
	if err := resp.Decode(&created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.NewResourceNotFoundError("keycloak", "group id missing from create response")
	}
	return created.ID, nil
}

// AddUserToGroup joins a user to a group. Keycloak treats repeated joins as
// no-ops.
func (k *KeycloakClient) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	path := fmt.Sprintf("/users/%s/groups/%s", url.PathEscape(userID), url.PathEscape(groupID))
	resp, err := k.adminCall(ctx, http.MethodPut, path, nil)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return k.apiError("group member add", resp)
	}
	return nil
}

// ListUserGroups returns the groups a user is a direct member of.
func (k *KeycloakClient) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	path := fmt.Sprintf("/users/%s/groups?briefRepresentation=true", url.PathEscape(userID))
	resp, err := k.adminCall(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, k.apiError("user group listing", resp)
	}

	var groups []Group
	if err := resp.Decode(&groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// HealthCheck verifies the admin credentials by fetching a token.
func (k *KeycloakClient) HealthCheck(ctx context.Context) error {
	_, err := k.getAccessToken(ctx)
	return err
}
