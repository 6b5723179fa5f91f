package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls the external authenticator service. Credential checking
// lives there; this backend only layers device and session rules on top.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call for local dev.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Authenticate verifies the account's credential. A non-2xx response is
// a rejection; the body message is surfaced.
func (c *Client) Authenticate(ctx context.Context, accountID, credential string) error {
	if c.Skip {
		return nil
	}
	if accountID == "" || credential == "" {
		return fmt.Errorf("account id and credential required")
	}

	body, _ := json.Marshal(map[string]string{
		"account_id": accountID,
		"credential": credential,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("authenticator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("authenticator rejected login %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// SignOut tears down the account's session at the authenticator. The
// guard calls this after rejecting a login from an unregistered device
// so no authenticated-but-unauthorized state persists.
func (c *Client) SignOut(ctx context.Context, accountID string) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/sessions/"+accountID, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("authenticator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("authenticator sign-out error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}

// Health checks if the authenticator is reachable.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("authenticator unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("authenticator unhealthy: %s", resp.Status)
	}
	return nil
}
