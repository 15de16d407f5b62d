// Package enrich looks up tagged devices against an external wardriving
// database and folds the results back into the observation store. The
// worker drains the enrichment queue on a timer; the client speaks the
// lookup service's network detail API.
package enrich

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/shadowtrace/internal/httputil"
)

// Sentinel errors for lookup outcomes the worker handles distinctly.
var (
	// ErrNotFound means the service has no records for the device. That is
	// a successful lookup with an empty result, not a failure.
	ErrNotFound = errors.New("device not known to lookup service")

	// ErrUnauthorized means the credentials were rejected.
	ErrUnauthorized = errors.New("lookup service rejected credentials")

	// ErrRateLimited means the service asked us to back off.
	ErrRateLimited = errors.New("lookup service rate limit exceeded")
)

// LocationPoint is one historical sighting returned by the lookup service.
type LocationPoint struct {
	Lat        float64
	Lon        float64
	SignalDBm  *int64
	ObservedAt time.Time
}

// NetworkRecord is one network entry from the detail response.
type NetworkRecord struct {
	BSSID      string
	SSID       *string
	Encryption *string
	Channel    *int64
	Locations  []LocationPoint
}

// Client calls the external lookup service. Credentials are the service's
// "name:token" API pair, accepted raw or pre-encoded as base64.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    httputil.HTTPClient
}

// NewClient creates a lookup client. A nil http client gets a standard one
// with a conservative timeout.
func NewClient(baseURL, apiKey string, httpClient httputil.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(&http.Client{Timeout: 30 * time.Second})
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    httpClient,
	}
}

func (c *Client) authHeader() string {
	key := c.APIKey
	if strings.Contains(key, ":") {
		key = base64.StdEncoding.EncodeToString([]byte(key))
	}
	return "Basic " + key
}

// NetworkDetail fetches the full location history for one device
// identifier. Returns ErrNotFound, ErrUnauthorized or ErrRateLimited for
// the outcomes the worker treats specially.
func (c *Client) NetworkDetail(ctx context.Context, deviceID string) ([]NetworkRecord, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("lookup client has no API credentials")
	}

	url := fmt.Sprintf("%s/api/v3/detail/wifi/%s", c.BaseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup request for %s failed: %w", deviceID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("lookup for %s returned status %d: %s", deviceID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var detail detailResponse
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response for %s: %w", deviceID, err)
	}
	if !detail.Success {
		return nil, fmt.Errorf("lookup for %s reported failure: %s", deviceID, detail.Message)
	}
	if len(detail.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}

	records := make([]NetworkRecord, 0, len(detail.Results))
	for _, r := range detail.Results {
		rec := NetworkRecord{BSSID: deviceID}
		if r.SSID != "" {
			ssid := r.SSID
			rec.SSID = &ssid
		}
		if r.Encryption != "" {
			enc := r.Encryption
			rec.Encryption = &enc
		}
		if r.Channel != 0 {
			ch := r.Channel
			rec.Channel = &ch
		}
		for _, loc := range r.LocationData {
			point := LocationPoint{
				Lat:        loc.Latitude,
				Lon:        loc.Longitude,
				ObservedAt: loc.Time.Time,
			}
			if loc.Signal != nil {
				sig := int64(*loc.Signal)
				point.SignalDBm = &sig
			}
			rec.Locations = append(rec.Locations, point)
		}
		records = append(records, rec)
	}
	return records, nil
}

type detailResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Results []detailResult `json:"results"`
}

type detailResult struct {
	SSID         string         `json:"ssid"`
	Encryption   string         `json:"encryption"`
	Channel      int64          `json:"channel"`
	LocationData []detailedTrip `json:"locationData"`
}

type detailedTrip struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Signal    *float64 `json:"signal"`
	Time      flexTime `json:"time"`
}

// flexTime decodes the timestamp formats the lookup service emits:
// RFC 3339, a space-separated datetime, or unix epoch seconds.
type flexTime struct {
	time.Time
}

var flexLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range flexLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	if epoch, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		t.Time = time.Unix(sec, nsec).UTC()
		return nil
	}
	return fmt.Errorf("unrecognised timestamp %q in lookup response", s)
}
