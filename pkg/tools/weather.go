package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// WeatherToolName is the name the model calls this tool by.
	WeatherToolName = "get_current_weather"

	openMeteoBaseURL = "https://api.open-meteo.com/v1/forecast"
)

// WeatherTool reports current conditions for a coordinate via the Open-Meteo
// forecast API. It needs no API key.
type WeatherTool struct {
	client  *http.Client
	baseURL string
}

// NewWeatherTool creates the tool with a sane request timeout.
func NewWeatherTool() *WeatherTool {
	return &WeatherTool{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: openMeteoBaseURL,
	}
}

func (t *WeatherTool) Name() string { return WeatherToolName }

func (t *WeatherTool) Description() string {
	return "Get the current weather at a location given its latitude and longitude."
}

func (t *WeatherTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"latitude":  map[string]any{"type": "number", "description": "Latitude of the location"},
			"longitude": map[string]any{"type": "number", "description": "Longitude of the location"},
		},
		"required": []string{"latitude", "longitude"},
	}
}

func (t *WeatherTool) Run(ctx context.Context, args map[string]any) (any, error) {
	lat, err := floatArg(args, "latitude")
	if err != nil {
		return nil, err
	}
	lon, err := floatArg(args, "longitude")
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open-meteo returned status %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("open-meteo response: %w", err)
	}
	return body, nil
}

func floatArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing required argument %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}
