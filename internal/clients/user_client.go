package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// UserClient resolves display names from the user service. Lookups are
// best-effort: any failure degrades to a placeholder name so profile
// outages never abort a matching operation.
type UserClient struct {
	baseURL string
	http    *http.Client
}

func NewUserClient(baseURL string) *UserClient {
	return &UserClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 3 * time.Second},
	}
}

// PlaceholderName is used when the user service cannot be reached.
func PlaceholderName(userID string) string {
	return "User " + userID
}

// GetUsername returns the display name for userID, or a placeholder on
// any failure. It never returns an error.
func (c *UserClient) GetUsername(ctx context.Context, userID string) string {
	reqURL := fmt.Sprintf("%s/api/v1/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return PlaceholderName(userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PlaceholderName(userID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PlaceholderName(userID)
	}

	var body struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Username == "" {
		return PlaceholderName(userID)
	}
	return body.Username
}
