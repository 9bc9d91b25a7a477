// Package client talks to the gymroutes API over HTTP and the climb log websocket stream.
// A Client satisfies every backend contract of the tracker package.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gymroutes/internal/gym"
	"github.com/MarcoPoloResearchLab/gymroutes/internal/tracker"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 15 * time.Second
	jsonContentType       = "application/json"
)

var (
	// ErrInvalidCredentials indicates the API rejected an email and password pair.
	ErrInvalidCredentials = errors.New("client: invalid credentials")
	// ErrEmailTaken indicates sign-up used an email that already has an account.
	ErrEmailTaken = errors.New("client: email already registered")
	// ErrForbidden indicates the signed-in user may not perform the request.
	ErrForbidden = errors.New("client: forbidden")
	// ErrInvalidBaseURL indicates the configured API address could not be used.
	ErrInvalidBaseURL = errors.New("client: invalid base url")
)

var codeErrors = map[string]error{
	"not_found":               gym.ErrNotFound,
	"unknown_wall":            gym.ErrUnknownWall,
	"stale_reset":             gym.ErrStaleReset,
	"duplicate":               gym.ErrDuplicateClimbLog,
	"route_date_before_reset": gym.ErrRouteDateBeforeReset,
	"invalid_request":         gym.ErrInvalidInput,
	"invalid_credentials":     ErrInvalidCredentials,
	"email_taken":             ErrEmailTaken,
}

// APIError is a non-success answer from the API. It unwraps to the matching sentinel.
type APIError struct {
	StatusCode int
	Code       string
	cause      error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: api responded %d %s", e.StatusCode, e.Code)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// Config wires a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Client is an authenticated API client. The access token obtained at sign-in is kept
// in memory only.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// New validates the configuration and builds a signed-out Client.
func New(cfg Config) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: parsed, httpClient: httpClient, dialer: dialer, logger: logger}, nil
}

// Backend exposes the client as every tracker contract.
func (c *Client) Backend() tracker.Backend {
	return tracker.Backend{Auth: c, Resets: c, Routes: c, ClimbLogs: c, Changes: c}
}

// Token returns the current access token, empty when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken adopts an access token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *Client) endpoint(path string, query url.Values) string {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", jsonContentType)
	}
	return c.send(request, out)
}

func (c *Client) send(request *http.Request, out any) error {
	request.Header.Set("Accept", jsonContentType)
	if token := c.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", request.Method, request.URL.Path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", request.Method, request.URL.Path, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	var envelope struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(response.Body, 4096)).Decode(&envelope)
	apiErr := &APIError{StatusCode: response.StatusCode, Code: envelope.Error}
	if cause, ok := codeErrors[envelope.Error]; ok {
		apiErr.cause = cause
		return apiErr
	}
	switch response.StatusCode {
	case http.StatusUnauthorized:
		apiErr.cause = tracker.ErrNotLoggedIn
	case http.StatusForbidden:
		apiErr.cause = ErrForbidden
	}
	return apiErr
}

type sessionResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresIn   int64        `json:"expires_in"`
	User        tracker.User `json:"user"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// SignIn exchanges credentials for an access token.
func (c *Client) SignIn(ctx context.Context, email, password string) (tracker.User, error) {
	return c.startSession(ctx, "/auth/signin", credentialsRequest{Email: email, Password: password})
}

// SignUp registers an account and keeps the returned access token.
func (c *Client) SignUp(ctx context.Context, email, password, username string) (tracker.User, error) {
	return c.startSession(ctx, "/auth/signup", credentialsRequest{Email: email, Password: password, Username: username})
}

func (c *Client) startSession(ctx context.Context, path string, credentials credentialsRequest) (tracker.User, error) {
	var session sessionResponse
	if err := c.doJSON(ctx, http.MethodPost, path, nil, credentials, &session); err != nil {
		return tracker.User{}, err
	}
	c.SetToken(session.AccessToken)
	c.logger.Debug("session started", zap.String("user_id", session.User.ID), zap.Int64("expires_in", session.ExpiresIn))
	return session.User, nil
}

// SignOut revokes the access token. The token is forgotten even when revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/signout", nil, nil, nil)
	c.SetToken("")
	return err
}

// CurrentUser returns the user behind the access token.
func (c *Client) CurrentUser(ctx context.Context) (tracker.User, error) {
	if c.Token() == "" {
		return tracker.User{}, tracker.ErrNotLoggedIn
	}
	var user tracker.User
	if err := c.doJSON(ctx, http.MethodGet, "/auth/user", nil, nil, &user); err != nil {
		return tracker.User{}, err
	}
	return user, nil
}

// Walls lists the configured wall identifiers.
func (c *Client) Walls(ctx context.Context) ([]string, error) {
	var response struct {
		Walls []string `json:"walls"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/walls", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Walls, nil
}

// UploadPhoto stores a wall photo and returns its public URL for PerformWallReset.
func (c *Client) UploadPhoto(ctx context.Context, wallID, filename, contentType string, photo io.Reader) (string, error) {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("client: build photo upload: %w", err)
	}
	if _, err := io.Copy(part, photo); err != nil {
		return "", fmt.Errorf("client: read photo: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("client: build photo upload: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/walls/"+url.PathEscape(wallID)+"/photos", nil), &buffer)
	if err != nil {
		return "", fmt.Errorf("client: build photo upload: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	var response struct {
		PhotoURL string `json:"photo_url"`
	}
	if err := c.send(request, &response); err != nil {
		return "", err
	}
	return response.PhotoURL, nil
}
