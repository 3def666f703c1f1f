package sampler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const scrapeTimeout = 5 * time.Second

// DCGMAPI abstracts the dcgm-exporter scrape for testability.
type DCGMAPI interface {
	ScrapeDevices(ctx context.Context, endpoint string) ([]DeviceReading, error)
}

type dcgmExporterClient struct {
	client *http.Client
}

// NewDCGMExporterClient creates a DCGMAPI that scrapes a dcgm-exporter HTTP endpoint.
func NewDCGMExporterClient(client *http.Client) DCGMAPI {
	return &dcgmExporterClient{client: client}
}

func (c *dcgmExporterClient) ScrapeDevices(ctx context.Context, endpoint string) ([]DeviceReading, error) {
	body, err := scrapeEndpoint(ctx, c.client, endpoint)
	if err != nil {
		return nil, err
	}
	return ParseDCGMMetrics(body), nil
}

// scrapeEndpoint fetches raw metrics text. endpoint is a base URL such as
// "http://10.0.0.5:9400"; "/metrics" is appended.
func scrapeEndpoint(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	url := strings.TrimRight(endpoint, "/") + "/metrics"

	ctx, cancel := context.WithTimeout(ctx, scrapeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", url, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scraping %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}
