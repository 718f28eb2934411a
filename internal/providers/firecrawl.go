package providers

import (
	"context"
	"net/http"
	"strings"
)

const firecrawlValidationURL = "https://api.firecrawl.dev/v1/scrape"

// FirecrawlKeyValidator checks an API key against the Firecrawl API. Used
// best-effort on manual credential creation; a transport failure is reported
// as an error so the caller can save anyway, while a rejected key comes back
// as valid=false.
type FirecrawlKeyValidator struct {
	httpClient *http.Client
	url        string
}

func NewFirecrawlKeyValidator(httpClient *http.Client) *FirecrawlKeyValidator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &FirecrawlKeyValidator{httpClient: httpClient, url: firecrawlValidationURL}
}

func (v *FirecrawlKeyValidator) Validate(ctx context.Context, apiKey string) (bool, error) {
	body := strings.NewReader(`{"url":"https://example.com"}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, body)
	if err != nil {
		return false, err
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode < 400, nil
}
