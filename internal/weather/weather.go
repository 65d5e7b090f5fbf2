package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultAPIURL is the Open-Meteo forecast endpoint. No API key is needed.
	DefaultAPIURL = "https://api.open-meteo.com/v1/forecast"
	// DefaultColdThreshold is the temperature in °C at or below which only
	// indoor menus are suggested.
	DefaultColdThreshold = -5.0
)

// snowCodes are the WMO weather codes for snowfall and snow showers.
var snowCodes = map[int]bool{71: true, 73: true, 75: true, 77: true, 85: true, 86: true}

// Conditions is the current weather at the configured location.
type Conditions struct {
	Temperature float64
	Code        int
	Description string
	IsSnowing   bool
}

// Assessment says whether people should stay indoors for lunch.
type Assessment struct {
	StayIndoor bool
	Reason     string
	Conditions Conditions
}

// Client queries Open-Meteo.
type Client struct {
	httpClient    *http.Client
	apiURL        string
	latitude      float64
	longitude     float64
	timezone      string
	coldThreshold float64
}

// Options configures a Client. Zero values fall back to Seoul defaults.
type Options struct {
	APIURL        string
	Latitude      float64
	Longitude     float64
	Timezone      string
	ColdThreshold *float64
	Timeout       time.Duration
}

// NewClient creates a new Open-Meteo client.
func NewClient(opts Options) *Client {
	c := &Client{
		apiURL:        opts.APIURL,
		latitude:      opts.Latitude,
		longitude:     opts.Longitude,
		timezone:      opts.Timezone,
		coldThreshold: DefaultColdThreshold,
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.latitude == 0 && c.longitude == 0 {
		c.latitude, c.longitude = 37.5665, 126.9780
	}
	if c.timezone == "" {
		c.timezone = "Asia/Seoul"
	}
	if opts.ColdThreshold != nil {
		c.coldThreshold = *opts.ColdThreshold
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	c.httpClient = &http.Client{Timeout: timeout}
	return c
}

// Current fetches the current temperature and weather code.
func (c *Client) Current(ctx context.Context) (Conditions, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.latitude, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(c.longitude, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code")
	q.Set("timezone", c.timezone)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Conditions{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Conditions{}, fmt.Errorf("weather api error: status %d", resp.StatusCode)
	}

	var body struct {
		Current *struct {
			Temperature float64 `json:"temperature_2m"`
			WeatherCode int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Conditions{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Current == nil {
		return Conditions{}, fmt.Errorf("weather api response has no current block")
	}

	cond := Conditions{
		Temperature: body.Current.Temperature,
		Code:        body.Current.WeatherCode,
		Description: Describe(body.Current.WeatherCode),
		IsSnowing:   snowCodes[body.Current.WeatherCode],
	}
	slog.Info("Current weather",
		slog.Float64("temperature", cond.Temperature),
		slog.String("description", cond.Description),
		slog.Int("code", cond.Code))
	return cond, nil
}

// Assess decides whether the current weather calls for indoor-only menus.
func (c *Client) Assess(ctx context.Context) (Assessment, error) {
	cond, err := c.Current(ctx)
	if err != nil {
		return Assessment{}, err
	}
	a := Evaluate(cond, c.coldThreshold)
	if a.StayIndoor {
		slog.Info("Recommending indoor menus", slog.String("reason", a.Reason))
	}
	return a, nil
}

// Evaluate applies the indoor rules to cond. Cold takes precedence over snow.
func Evaluate(cond Conditions, coldThreshold float64) Assessment {
	a := Assessment{Conditions: cond}
	switch {
	case cond.Temperature <= coldThreshold:
		a.StayIndoor = true
		a.Reason = fmt.Sprintf("🥶 It is very cold outside (%.1f°C)", cond.Temperature)
	case cond.IsSnowing:
		a.StayIndoor = true
		a.Reason = fmt.Sprintf("❄️ It is snowing (%s)", cond.Description)
	}
	return a
}

var descriptions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Light rain",
	63: "Rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Light snow",
	73: "Snow",
	75: "Heavy snow",
	77: "Snow grains",
	80: "Light rain showers",
	81: "Rain showers",
	82: "Violent rain showers",
	85: "Light snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with light hail",
	99: "Thunderstorm with heavy hail",
}

// Describe maps a WMO weather code to English text.
func Describe(code int) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("Unknown (code %d)", code)
}
