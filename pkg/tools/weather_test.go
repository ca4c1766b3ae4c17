package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeatherToolRun(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"latitude":  r.URL.Query().Get("latitude"),
			"longitude": r.URL.Query().Get("longitude"),
			"current":   r.URL.Query().Get("current"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current":{"temperature_2m":19.4,"wind_speed_10m":12.1}}`))
	}))
	defer srv.Close()

	tool := &WeatherTool{client: srv.Client(), baseURL: srv.URL}
	result, err := tool.Run(context.Background(), map[string]any{"latitude": 52.52, "longitude": 13.405})
	require.NoError(t, err)

	require.Equal(t, "52.52", gotQuery["latitude"])
	require.Equal(t, "13.405", gotQuery["longitude"])
	require.Contains(t, gotQuery["current"], "temperature_2m")

	body, ok := result.(map[string]any)
	require.True(t, ok)
	current, ok := body["current"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 19.4, current["temperature_2m"])
}

func TestWeatherToolMissingArgument(t *testing.T) {
	tool := NewWeatherTool()
	_, err := tool.Run(context.Background(), map[string]any{"latitude": 1.0})
	require.ErrorContains(t, err, "longitude")
}

func TestWeatherToolNonNumericArgument(t *testing.T) {
	tool := NewWeatherTool()
	_, err := tool.Run(context.Background(), map[string]any{"latitude": "north", "longitude": 2.0})
	require.ErrorContains(t, err, "latitude")
}

func TestWeatherToolUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tool := &WeatherTool{client: srv.Client(), baseURL: srv.URL}
	_, err := tool.Run(context.Background(), map[string]any{"latitude": 1.0, "longitude": 2.0})
	require.ErrorContains(t, err, "502")
}
