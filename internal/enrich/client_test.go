package enrich

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shadowtrace/internal/httputil"
)

const detailBody = `{
	"success": true,
	"results": [{
		"ssid": "CoffeeShopAP",
		"encryption": "wpa2",
		"channel": 6,
		"locationData": [
			{"latitude": 40.7128, "longitude": -74.0060, "signal": -61, "time": "2023-05-01T10:00:00.000Z"},
			{"latitude": 40.7500, "longitude": -74.1000, "signal": -72, "time": "2023-05-02 11:30:00"}
		]
	}]
}`

func TestNetworkDetail_RequestShape(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, detailBody)

	client := NewClient("https://lookup.example.net/", "name:token", mock)

	records, err := client.NetworkDetail(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)

	require.Equal(t, 1, mock.RequestCount())
	req := mock.Requests[0]
	assert.Equal(t, "https://lookup.example.net/api/v3/detail/wifi/AA:BB:CC:DD:EE:FF", req.URL.String())

	wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("name:token"))
	assert.Equal(t, wantAuth, req.Header.Get("Authorization"))

	require.Len(t, records, 1)
	rec := records[0]
	require.NotNil(t, rec.SSID)
	assert.Equal(t, "CoffeeShopAP", *rec.SSID)
	require.NotNil(t, rec.Encryption)
	assert.Equal(t, "wpa2", *rec.Encryption)
	require.Len(t, rec.Locations, 2)
	assert.Equal(t, 40.7128, rec.Locations[0].Lat)
	require.NotNil(t, rec.Locations[0].SignalDBm)
	assert.Equal(t, int64(-61), *rec.Locations[0].SignalDBm)
	assert.Equal(t, 2023, rec.Locations[0].ObservedAt.Year())
	assert.Equal(t, 2023, rec.Locations[1].ObservedAt.Year())
}

func TestNetworkDetail_PreEncodedCredentials(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, detailBody)

	encoded := base64.StdEncoding.EncodeToString([]byte("name:token"))
	client := NewClient("https://lookup.example.net", encoded, mock)

	_, err := client.NetworkDetail(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "Basic "+encoded, mock.Requests[0].Header.Get("Authorization"))
}

func TestNetworkDetail_StatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", 404, ErrNotFound},
		{"unauthorized", 401, ErrUnauthorized},
		{"forbidden", 403, ErrUnauthorized},
		{"rate limited", 429, ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := httputil.NewMockHTTPClient()
			mock.AddResponse(tc.status, `{}`)

			client := NewClient("https://lookup.example.net", "name:token", mock)
			_, err := client.NetworkDetail(context.Background(), "AA:BB:CC:DD:EE:FF")
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestNetworkDetail_EmptyResultsIsNotFound(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"success": true, "results": []}`)

	client := NewClient("https://lookup.example.net", "name:token", mock)
	_, err := client.NetworkDetail(context.Background(), "AA:BB:CC:DD:EE:FF")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestNetworkDetail_ReportedFailure(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, `{"success": false, "message": "too many queries today"}`)

	client := NewClient("https://lookup.example.net", "name:token", mock)
	_, err := client.NetworkDetail(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many queries today")
}

func TestNetworkDetail_NoCredentials(t *testing.T) {
	client := NewClient("https://lookup.example.net", "", httputil.NewMockHTTPClient())
	_, err := client.NetworkDetail(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.Error(t, err)
}

func TestFlexTime_EpochSeconds(t *testing.T) {
	var ft flexTime
	require.NoError(t, ft.UnmarshalJSON([]byte(`"1700000000"`)))
	assert.Equal(t, int64(1700000000), ft.Unix())

	require.NoError(t, ft.UnmarshalJSON([]byte(`null`)))
	assert.True(t, ft.IsZero())

	assert.Error(t, ft.UnmarshalJSON([]byte(`"next tuesday"`)))
}
