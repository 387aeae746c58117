package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ProviderClient fetches objects back from the payment provider's API.
// Used when a webhook payload arrives without the metadata linking it to
// one of our records.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewProviderClient(baseURL, apiKey string, client *http.Client) *ProviderClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProviderClient{baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

// GetSubscriptionMetadata re-fetches a provider subscription and returns
// its metadata map.
func (c *ProviderClient) GetSubscriptionMetadata(ctx context.Context, providerSubID string) (map[string]string, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", c.baseURL, providerSubID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch provider subscription %s: %w", providerSubID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d for subscription %s", resp.StatusCode, providerSubID)
	}

	var body struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode provider subscription %s: %w", providerSubID, err)
	}

	return body.Metadata, nil
}
