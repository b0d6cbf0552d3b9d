package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"metalledger/internal/egress"
	"metalledger/internal/pricing"
)

var fixedNow = time.Date(2024, 1, 16, 20, 0, 0, 0, time.UTC)

func newTestMetalsAPI(opts MetalsAPIOptions, client HTTPClient) *MetalsAPI {
	m := NewMetalsAPI(opts, client, zerolog.Nop())
	m.now = func() time.Time { return fixedNow }
	return m
}

func jsonResponse(t *testing.T, status int, body any) *http.Response {
	t.Helper()
	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(body))
	return &http.Response{StatusCode: status, Body: io.NopCloser(buffer)}
}

func TestMetalsAPISyntheticWithoutKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().Do(gomock.Any()).Times(0)

	prices, err := newTestMetalsAPI(MetalsAPIOptions{}, client).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 3)

	assert.Equal(t, pricing.MetalSlug("XAU"), prices[0].Metal)
	assert.True(t, prices[0].Value.Equal(decimal.RequireFromString("2041.50")))
	assert.Equal(t, "synthetic_XAU_1705435200", prices[0].ExternalID)
	assert.Equal(t, "SPOT", prices[0].Venue)
}

func TestMetalsAPIInvertsRates(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"base":"USD","timestamp":1705435200,"rates":{"XAU":0.0005,"XAG":0.04,"CU":0}}`))
	}))
	defer srv.Close()

	m := newTestMetalsAPI(MetalsAPIOptions{BaseURL: srv.URL, APIKey: "k"}, egress.NewClient(time.Second, []string{"127.0.0.1"}))
	prices, err := m.Fetch(context.Background())
	require.NoError(t, err)

	assert.Contains(t, gotQuery, "access_key=k")
	assert.Contains(t, gotQuery, "symbols=XAU%2CXAG%2CCU")
	require.Len(t, prices, 2, "zero rate must be skipped")
	assert.True(t, prices[0].Value.Equal(decimal.NewFromInt(2000)), prices[0].Value.String())
	assert.True(t, prices[1].Value.Equal(decimal.RequireFromString("25")), prices[1].Value.String())
	assert.Equal(t, "metals_api_XAU_1705435200", prices[0].ExternalID)
	assert.Equal(t, "USD", prices[0].Currency)
}

func TestMetalsAPIRoundsToSixPlaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(t, http.StatusOK, map[string]any{
				"success": true,
				"base":    "USD",
				"rates":   map[string]float64{"XAU": 0.000489},
			}), nil
		}).
		Times(1)

	m := newTestMetalsAPI(MetalsAPIOptions{APIKey: "k", Symbols: []string{"XAU"}}, client)
	prices, err := m.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, "2044.989775", prices[0].Value.String())
}

func TestMetalsAPIFailureFallsBackToSynthetic(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockHTTPClient(ctrl)
	client.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(t, http.StatusOK, map[string]any{
			"success": false,
			"error":   map[string]any{"code": 101, "info": "invalid key"},
		}), nil)

	prices, err := newTestMetalsAPI(MetalsAPIOptions{APIKey: "bad"}, client).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, prices, 3)
	assert.Equal(t, "synthetic_CU_1705435200", prices[2].ExternalID)
}

func TestMetalsAPIHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 104, "info": "quota reached"}})
	}))
	defer srv.Close()

	m := newTestMetalsAPI(MetalsAPIOptions{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	_, err := m.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota reached")
	assert.Contains(t, err.Error(), "429")
}

func TestMetalsAPIBlockedByEgress(t *testing.T) {
	m := newTestMetalsAPI(
		MetalsAPIOptions{BaseURL: "https://evil.example.com/api", APIKey: "k"},
		egress.NewClient(time.Second, []string{"metals-api.com"}),
	)
	_, err := m.Fetch(context.Background())
	assert.ErrorIs(t, err, egress.ErrDenied)
}
