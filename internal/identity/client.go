package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// ClientConfig holds connection settings for the Keycloak admin API.
type ClientConfig struct {
	// BaseURL is the Keycloak server root, e.g. http://localhost:8080
	BaseURL string

	// Realm is the realm that holds tenant users, groups and clients.
	Realm string

	// AdminRealm is the realm the service account authenticates against.
	// Default: master
	AdminRealm string

	// AdminClientID is the OAuth client used for the password grant.
	// Default: admin-cli
	AdminClientID string

	AdminUsername string
	AdminPassword string

	// RequestTimeout bounds each admin API call. Default: 5s. Retries belong
	// to the caller.
	RequestTimeout time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *ClientConfig) ApplyDefaults() {
	if c.AdminRealm == "" {
		c.AdminRealm = "master"
	}
	if c.AdminClientID == "" {
		c.AdminClientID = "admin-cli"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
}

// Validate checks that the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("keycloak base URL is required")
	}
	if c.Realm == "" {
		return fmt.Errorf("keycloak realm is required")
	}
	if c.AdminUsername == "" || c.AdminPassword == "" {
		return fmt.Errorf("keycloak admin credentials are required")
	}
	return nil
}

// Client talks to the Keycloak admin REST API. Each call is single-shot with
// a bounded timeout; saga steps wrap calls in their own retry policy.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient creates a Keycloak admin client authenticating with the password
// grant against the admin realm. Tokens are cached and refreshed as needed.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conf := &oauth2.Config{
		ClientID: cfg.AdminClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL: fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
				strings.TrimRight(cfg.BaseURL, "/"), cfg.AdminRealm),
		},
	}
	ts := oauth2.ReuseTokenSource(nil, &passwordTokenSource{
		conf:     conf,
		username: cfg.AdminUsername,
		password: cfg.AdminPassword,
	})

	return &Client{
		cfg: cfg,
		http: &http.Client{
			Transport: &oauth2.Transport{Source: ts},
		},
	}, nil
}

// passwordTokenSource fetches a fresh token with the resource owner password
// grant. ReuseTokenSource on top of it avoids a token round trip per call.
type passwordTokenSource struct {
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.conf.PasswordCredentialsToken(ctx, s.username, s.password)
}

// apiError carries the status and body of a failed admin API call.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("keycloak admin API returned %d: %s", e.Status, e.Body)
}

func (c *Client) adminURL(parts ...string) string {
	base := strings.TrimRight(c.cfg.BaseURL, "/") + "/admin/realms/" + url.PathEscape(c.cfg.Realm)
	for _, p := range parts {
		base += "/" + url.PathEscape(p)
	}
	return base
}

// do performs one admin API call. A non-nil out is filled from a 2xx JSON
// response. The returned location is the Location header, used to recover
// ids from 201 responses.
func (c *Client) do(ctx context.Context, method, rawURL string, body any, out any) (location string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.Header.Get("Location"), nil
}

func statusOf(err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// idFromLocation extracts the trailing path segment of a Location header.
func idFromLocation(location string) string {
	if location == "" {
		return ""
	}
	parts := strings.Split(strings.TrimRight(location, "/"), "/")
	return parts[len(parts)-1]
}

type userRep struct {
	ID              string   `json:"id,omitempty"`
	Username        string   `json:"username"`
	Email           string   `json:"email,omitempty"`
	FirstName       string   `json:"firstName,omitempty"`
	LastName        string   `json:"lastName,omitempty"`
	Enabled         bool     `json:"enabled"`
	RequiredActions []string `json:"requiredActions,omitempty"`
}

func (r *userRep) toUser() *User {
	return &User{
		ID:        r.ID,
		Username:  r.Username,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Enabled:   r.Enabled,
	}
}

// GetUserByUsername returns the user with the exact username.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := c.adminURL("users") + "?exact=true&username=" + url.QueryEscape(username)

	var reps []userRep
	if _, err := c.do(ctx, http.MethodGet, u, nil, &reps); err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, ErrNotFound
	}
	return reps[0].toUser(), nil
}

// GetUserByEmail returns the first user with the exact email.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := c.adminURL("users") + "?exact=true&email=" + url.QueryEscape(email)

	var reps []userRep
	if _, err := c.do(ctx, http.MethodGet, u, nil, &reps); err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, ErrNotFound
	}
	return reps[0].toUser(), nil
}

// CreateUser creates an enabled account with the given required actions and
// returns the provider id. A username conflict resolves to the existing id.
func (c *Client) CreateUser(ctx context.Context, user User, requiredActions []string) (string, error) {
	rep := userRep{
		Username:        user.Username,
		Email:           user.Email,
		FirstName:       user.FirstName,
		LastName:        user.LastName,
		Enabled:         true,
		RequiredActions: requiredActions,
	}

	location, err := c.do(ctx, http.MethodPost, c.adminURL("users"), rep, nil)
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			existing, lookupErr := c.GetUserByUsername(ctx, user.Username)
			if lookupErr != nil {
				return "", fmt.Errorf("user exists but lookup failed: %w", lookupErr)
			}
			log.Debug().Str("username", user.Username).Msg("User already present in identity provider")
			return existing.ID, nil
		}
		return "", err
	}

	id := idFromLocation(location)
	if id == "" {
		return "", fmt.Errorf("create user response missing location header")
	}
	return id, nil
}

// SetRequiredActions replaces the user's required actions.
func (c *Client) SetRequiredActions(ctx context.Context, userID string, actions []string) error {
	var rep userRep
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("users", userID), nil, &rep); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}

	rep.RequiredActions = actions
	_, err := c.do(ctx, http.MethodPut, c.adminURL("users", userID), rep, nil)
	return err
}

// SendExecuteActionsEmail triggers the action email for the user.
func (c *Client) SendExecuteActionsEmail(ctx context.Context, userID string, actions []string, lifespan time.Duration) error {
	u := c.adminURL("users", userID, "execute-actions-email")
	if lifespan > 0 {
		u += fmt.Sprintf("?lifespan=%d", int(lifespan.Seconds()))
	}
	_, err := c.do(ctx, http.MethodPut, u, actions, nil)
	return err
}

func (c *Client) setEnabled(ctx context.Context, userID string, enabled bool) error {
	var rep userRep
	if _, err := c.do(ctx, http.MethodGet, c.adminURL("users", userID), nil, &rep); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return err
	}

	rep.Enabled = enabled
	_, err := c.do(ctx, http.MethodPut, c.adminURL("users", userID), rep, nil)
	return err
}

// EnableUser marks the account enabled.
func (c *Client) EnableUser(ctx context.Context, userID string) error {
	return c.setEnabled(ctx, userID, true)
}

// DisableUser marks the account disabled without deleting it.
func (c *Client) DisableUser(ctx context.Context, userID string) error {
	return c.setEnabled(ctx, userID, false)
}

// DeleteUser removes the account. A missing account is success.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.adminURL("users", userID), nil, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// RevokeSessions logs the user out everywhere, forcing token refresh to pick
// up changed roles.
func (c *Client) RevokeSessions(ctx context.Context, userID string) error {
	_, err := c.do(ctx, http.MethodPost, c.adminURL("users", userID, "logout"), nil, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

type orgRep struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Alias   string `json:"alias,omitempty"`
	Domains []struct {
		Name string `json:"name"`
	} `json:"domains,omitempty"`
}

// CreateOrganization creates an organization and returns its id.
func (c *Client) CreateOrganization(ctx context.Context, name, alias, domain string) (string, error) {
	rep := map[string]any{
		"name":    name,
		"alias":   alias,
		"domains": []map[string]string{{"name": domain}},
	}

	location, err := c.do(ctx, http.MethodPost, c.adminURL("organizations"), rep, nil)
	if err != nil {
		return "", err
	}

	id := idFromLocation(location)
	if id == "" {
		return "", fmt.Errorf("create organization response missing location header")
	}
	return id, nil
}

func (c *Client) findOrganizationByName(ctx context.Context, name string) (string, error) {
	u := c.adminURL("organizations") + "?exact=true&search=" + url.QueryEscape(name)

	var reps []orgRep
	if _, err := c.do(ctx, http.MethodGet, u, nil, &reps); err != nil {
		return "", err
	}
	for _, rep := range reps {
		if rep.Name == name {
			return rep.ID, nil
		}
	}
	return "", ErrNotFound
}

// DeleteOrganizationByName removes the organization with the given name.
// A missing organization is success; the bool reports whether one was removed.
func (c *Client) DeleteOrganizationByName(ctx context.Context, name string) (bool, error) {
	id, err := c.findOrganizationByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	_, err = c.do(ctx, http.MethodDelete, c.adminURL("organizations", id), nil, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AddUserToOrganization adds the user as an organization member.
func (c *Client) AddUserToOrganization(ctx context.Context, userID, orgName string) error {
	id, err := c.findOrganizationByName(ctx, orgName)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost, c.adminURL("organizations", id, "members"), userID, nil)
	if err != nil && statusOf(err) == http.StatusConflict {
		return nil
	}
	return err
}

// RemoveUserFromOrganization removes the user from the organization. Missing
// membership is success.
func (c *Client) RemoveUserFromOrganization(ctx context.Context, userID, orgName string) error {
	id, err := c.findOrganizationByName(ctx, orgName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = c.do(ctx, http.MethodDelete, c.adminURL("organizations", id, "members", userID), nil, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

// CreateGroup creates a top-level group and returns its id.
func (c *Client) CreateGroup(ctx context.Context, name string) (string, error) {
	location, err := c.do(ctx, http.MethodPost, c.adminURL("groups"), map[string]string{"name": name}, nil)
	if err != nil {
		return "", err
	}

	id := idFromLocation(location)
	if id == "" {
		return "", fmt.Errorf("create group response missing location header")
	}
	return id, nil
}

// DeleteGroup removes a group. A missing group is success; the bool reports
// whether one was removed.
func (c *Client) DeleteGroup(ctx context.Context, groupID string) (bool, error) {
	_, err := c.do(ctx, http.MethodDelete, c.adminURL("groups", groupID), nil, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AddUserToGroup puts the user into the group.
func (c *Client) AddUserToGroup(ctx context.Context, userID, groupID string) error {
	_, err := c.do(ctx, http.MethodPut, c.adminURL("users", userID, "groups", groupID), nil, nil)
	return err
}

// RemoveUserFromGroup takes the user out of the group. Missing membership is
// success.
func (c *Client) RemoveUserFromGroup(ctx context.Context, userID, groupID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.adminURL("users", userID, "groups", groupID), nil, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

type clientRep struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
}

type roleRep struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// CreateClient creates an OAuth client and ensures the given client roles
// exist on it. Returns the internal client id.
func (c *Client) CreateClient(ctx context.Context, clientID string, roles []string) (string, error) {
	rep := map[string]any{
		"clientId":                  clientID,
		"enabled":                   true,
		"publicClient":              true,
		"standardFlowEnabled":       true,
		"directAccessGrantsEnabled": true,
	}

	location, err := c.do(ctx, http.MethodPost, c.adminURL("clients"), rep, nil)
	if err != nil {
		return "", err
	}

	id := idFromLocation(location)
	if id == "" {
		return "", fmt.Errorf("create client response missing location header")
	}

	for _, role := range roles {
		_, err := c.do(ctx, http.MethodPost, c.adminURL("clients", id, "roles"), roleRep{Name: role}, nil)
		if err != nil && statusOf(err) != http.StatusConflict {
			return "", fmt.Errorf("failed to create client role %s: %w", role, err)
		}
	}

	return id, nil
}

// DeleteClient removes an OAuth client by internal id. A missing client is
// success; the bool reports whether one was removed.
func (c *Client) DeleteClient(ctx context.Context, id string) (bool, error) {
	_, err := c.do(ctx, http.MethodDelete, c.adminURL("clients", id), nil, nil)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) clientRole(ctx context.Context, clientID, role string) (*roleRep, error) {
	var rep roleRep
	_, err := c.do(ctx, http.MethodGet, c.adminURL("clients", clientID, "roles", role), nil, &rep)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rep, nil
}

// AssignClientRole grants the user a client role.
func (c *Client) AssignClientRole(ctx context.Context, userID, clientID, role string) error {
	rep, err := c.clientRole(ctx, clientID, role)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, http.MethodPost,
		c.adminURL("users", userID, "role-mappings", "clients", clientID), []roleRep{*rep}, nil)
	return err
}

// RemoveClientRole revokes a client role from the user. Missing mappings are
// success.
func (c *Client) RemoveClientRole(ctx context.Context, userID, clientID, role string) error {
	rep, err := c.clientRole(ctx, clientID, role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = c.do(ctx, http.MethodDelete,
		c.adminURL("users", userID, "role-mappings", "clients", clientID), []roleRep{*rep}, nil)
	if err != nil && statusOf(err) == http.StatusNotFound {
		return nil
	}
	return err
}

var _ Provider = (*Client)(nil)
