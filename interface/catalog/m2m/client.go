package m2m

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/airbusgeo/nbr-ingester/service"
	"github.com/airbusgeo/nbr-ingester/service/log"
)

const (
	// M2MURL is the endpoint of the USGS Machine-to-Machine API
	M2MURL = "https://m2m.cr.usgs.gov/api/api/json/stable/"

	authHeader = "X-Auth-Token"
)

// APIError is an error returned by the API in the response envelope
type APIError struct {
	Endpoint string
	Code     string
	Message  string
}

func (e APIError) Error() string {
	return fmt.Sprintf("m2m[%s]: %s: %s", e.Endpoint, e.Code, e.Message)
}

// Temporary returns true if the request might succeed later (rate limits, server load)
func (e APIError) Temporary() bool {
	return strings.Contains(e.Code, "RATE_LIMIT") || e.Code == "SERVER_ERROR" || e.Code == "DOWNLOAD_UNAVAILABLE"
}

func (e APIError) authentication() bool {
	return strings.HasPrefix(e.Code, "AUTH_")
}

type response struct {
	RequestID    int             `json:"requestId"`
	Version      string          `json:"version"`
	Data         json.RawMessage `json:"data"`
	ErrorCode    *string         `json:"errorCode"`
	ErrorMessage *string         `json:"errorMessage"`
}

// Client of the M2M API. Login must be called first.
type Client struct {
	URL       string
	Username  string
	Token     string // Application token (login-token)
	Password  string // Legacy password login, used if Token is empty
	NbRetries int

	apiKey string
	mutex  sync.Mutex
}

// NewClient creates a new client of the M2M API
func NewClient(username, token string) *Client {
	return &Client{URL: M2MURL, Username: username, Token: token, NbRetries: 3}
}

// Login retrieves an api key
func (c *Client) Login(ctx context.Context) error {
	endpoint, payload := "login-token", map[string]string{"username": c.Username, "token": c.Token}
	if c.Token == "" {
		endpoint, payload = "login", map[string]string{"username": c.Username, "password": c.Password}
	}
	var apiKey string
	if err := c.post(ctx, endpoint, "", payload, &apiKey); err != nil {
		return fmt.Errorf("Login.%w", err)
	}
	if apiKey == "" {
		return fmt.Errorf("Login: empty api key")
	}
	c.mutex.Lock()
	c.apiKey = apiKey
	c.mutex.Unlock()
	log.Logger(ctx).Sugar().Debugf("logged in m2m as %s", c.Username)
	return nil
}

// Logout invalidates the api key
func (c *Client) Logout(ctx context.Context) error {
	c.mutex.Lock()
	apiKey := c.apiKey
	c.apiKey = ""
	c.mutex.Unlock()
	if apiKey == "" {
		return nil
	}
	if err := c.post(ctx, "logout", apiKey, nil, nil); err != nil {
		return fmt.Errorf("Logout.%w", err)
	}
	return nil
}

// call posts the payload to the endpoint with the api key.
// If the api key has expired, the client logs in again and retries once.
func (c *Client) call(ctx context.Context, endpoint string, payload, result interface{}) error {
	c.mutex.Lock()
	apiKey := c.apiKey
	c.mutex.Unlock()
	if apiKey == "" {
		return fmt.Errorf("%s: not logged in", endpoint)
	}
	err := c.post(ctx, endpoint, apiKey, payload, result)
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.authentication() && (c.Token != "" || c.Password != "") {
		log.Logger(ctx).Sugar().Debugf("%s: %v, login again", endpoint, err)
		if err := c.Login(ctx); err != nil {
			return err
		}
		c.mutex.Lock()
		apiKey = c.apiKey
		c.mutex.Unlock()
		return c.post(ctx, endpoint, apiKey, payload, result)
	}
	return err
}

func (c *Client) post(ctx context.Context, endpoint, apiKey string, payload, result interface{}) error {
	headers := map[string]string{}
	if apiKey != "" {
		headers[authHeader] = apiKey
	}
	if payload == nil {
		payload = map[string]string{}
	}
	service.CountCatalogRequest(endpoint)
	body, err := service.HTTPPostJSON(ctx, c.URL+endpoint, payload, headers, c.NbRetries)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%s.Unmarshal: %w", endpoint, err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != "" {
		apiErr := APIError{Endpoint: endpoint, Code: *resp.ErrorCode}
		if resp.ErrorMessage != nil {
			apiErr.Message = *resp.ErrorMessage
		}
		if apiErr.Temporary() {
			return service.MakeTemporary(apiErr)
		}
		return apiErr
	}
	if result != nil && len(resp.Data) > 0 && string(resp.Data) != "null" {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("%s.Unmarshal: %w", endpoint, err)
		}
	}
	return nil
}
