// Package geocode provides a reverse-geocoding client for the OpenCage
// Geocoder API. Given a latitude/longitude pair it returns the first
// result's formatted address.
//
// Failures map to three sentinel errors rather than free-form messages,
// so callers can record a stable display string for each outcome and
// keep non-addresses out of the normalized metadata.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultBaseURL is the OpenCage Geocoder API base URL.
	defaultBaseURL = "https://api.opencagedata.com/geocode/v1/json"

	// defaultTimeout is the HTTP client timeout for geocoding calls.
	defaultTimeout = 15 * time.Second
)

// Sentinel outcomes. Each has a fixed display string (see Display)
// stored as the record address when no genuine address exists.
var (
	// ErrAPIKeyMissing means no API key is configured; no call is made.
	ErrAPIKeyMissing = errors.New("geocoding API key missing")

	// ErrNotFound means the API responded but had no formatted result.
	ErrNotFound = errors.New("no location found for coordinates")

	// ErrGeocoding covers network, HTTP, and response parse failures.
	ErrGeocoding = errors.New("reverse geocoding failed")
)

// Display strings for the sentinel outcomes, as shown to users and
// stored in history records in place of an address.
const (
	DisplayAPIKeyMissing = "API Key Missing"
	DisplayNotFound      = "Location Not Found"
	DisplayError         = "Geocoding Error"
)

// Display returns the stable display string for a geocoding error, or
// the empty string for nil / unrecognized errors.
func Display(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAPIKeyMissing):
		return DisplayAPIKeyMissing
	case errors.Is(err, ErrNotFound):
		return DisplayNotFound
	case errors.Is(err, ErrGeocoding):
		return DisplayError
	default:
		return DisplayError
	}
}

// Client calls the OpenCage reverse-geocoding endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewClient creates a geocoding client. An empty apiKey is allowed; all
// Reverse calls then return ErrAPIKeyMissing without touching the network.
func NewClient(apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
	}
}

// geocodeResponse is the subset of the OpenCage response we read.
type geocodeResponse struct {
	Results []struct {
		Formatted string `json:"formatted"`
	} `json:"results"`
}

// Reverse resolves coordinates to the first result's formatted address.
// On failure it returns one of the package sentinel errors.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if c.apiKey == "" {
		log.Warn().Msg("OpenCage API key not configured, skipping reverse geocoding")
		return "", ErrAPIKeyMissing
	}

	q := url.Values{
		"q":   {fmt.Sprintf("%f+%f", lat, lon)},
		"key": {c.apiKey},
	}
	reqURL := c.baseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocoding, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("Reverse geocoding request failed")
		return "", fmt.Errorf("%w: %v", ErrGeocoding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Int("status", resp.StatusCode).Msg("Reverse geocoding returned non-200")
		return "", fmt.Errorf("%w: status %d", ErrGeocoding, resp.StatusCode)
	}

	var body geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrGeocoding, err)
	}

	if len(body.Results) == 0 || body.Results[0].Formatted == "" {
		log.Debug().Float64("lat", lat).Float64("lon", lon).Msg("No formatted address in geocoding response")
		return "", ErrNotFound
	}

	formatted := body.Results[0].Formatted
	log.Debug().
		Float64("lat", lat).
		Float64("lon", lon).
		Str("address", formatted).
		Msg("Reverse geocoding resolved")
	return formatted, nil
}
