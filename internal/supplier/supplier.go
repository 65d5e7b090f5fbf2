package supplier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"lunch-menu-bot/internal/logfields"
	"lunch-menu-bot/internal/menu"
	"lunch-menu-bot/internal/weather"
)

// ErrNoCandidates is returned when every menu is filtered out.
var ErrNoCandidates = errors.New("no menu candidates left after filtering")

// Random picks uniformly among the catalog menus allowed for a day.
type Random struct {
	catalog *Catalog
	intn    func(n int) int
}

// NewRandom creates a Random picker. A nil intn uses math/rand/v2.
func NewRandom(catalog *Catalog, intn func(n int) int) *Random {
	if intn == nil {
		intn = rand.IntN
	}
	return &Random{catalog: catalog, intn: intn}
}

// Pick returns one menu for day.
func (r *Random) Pick(day time.Weekday, indoorOnly bool) (string, error) {
	candidates := r.catalog.Candidates(day, indoorOnly)
	if len(candidates) == 0 {
		scope := "any"
		if indoorOnly {
			scope = "indoor-only"
		}
		return "", fmt.Errorf("%w (%s, %s)", ErrNoCandidates, scope, day)
	}
	return candidates[r.intn(len(candidates))], nil
}

// WeatherSource tells whether the weather calls for indoor menus.
type WeatherSource interface {
	Assess(ctx context.Context) (weather.Assessment, error)
}

// WeatherAware is the menu.Supplier used by the bot. It narrows the choice to
// indoor menus when the weather is adverse and records why.
type WeatherAware struct {
	picker  *Random
	weather WeatherSource
	now     func() time.Time
	loc     *time.Location
}

// NewWeatherAware creates the supplier. A nil source disables weather checks.
func NewWeatherAware(picker *Random, source WeatherSource, now func() time.Time, loc *time.Location) *WeatherAware {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	return &WeatherAware{picker: picker, weather: source, now: now, loc: loc}
}

// Suggest implements menu.Supplier.
func (w *WeatherAware) Suggest(ctx context.Context) (menu.Suggestion, error) {
	day := w.now().In(w.loc).Weekday()

	var wc *menu.WeatherContext
	if w.weather != nil {
		a, err := w.weather.Assess(ctx)
		if err != nil {
			return menu.Suggestion{}, fmt.Errorf("weather lookup failed: %w", err)
		}
		if a.StayIndoor {
			wc = &menu.WeatherContext{
				Reason:      a.Reason,
				Temperature: a.Conditions.Temperature,
				Description: a.Conditions.Description,
				IndoorOnly:  true,
			}
		}
	}

	name, err := w.picker.Pick(day, wc != nil)
	if err != nil {
		return menu.Suggestion{}, err
	}
	slog.Debug("Suggested menu", logfields.Menu(name), slog.Bool("indoor_only", wc != nil))
	return menu.Suggestion{Menu: name, Weather: wc}, nil
}
