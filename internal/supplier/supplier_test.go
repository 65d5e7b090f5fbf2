package supplier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lunch-menu-bot/internal/weather"
)

// 2025-06-09 is a Monday.
var monday = time.Date(2025, 6, 9, 11, 0, 0, 0, time.UTC)

func testCatalog() *Catalog {
	return NewCatalog([]Item{
		{Name: "Kimchi Stew", Indoor: true},
		{Name: "Samgyeopsal", ExcludedDays: []string{"Monday"}},
		{Name: "Sushi"},
		{Name: "Pizza", Indoor: true, ExcludedDays: []string{"friday"}},
	})
}

func TestCatalog_Candidates(t *testing.T) {
	c := testCatalog()

	assert.Equal(t, []string{"Kimchi Stew", "Sushi", "Pizza"}, c.Candidates(time.Monday, false))
	assert.Equal(t, []string{"Kimchi Stew", "Samgyeopsal", "Sushi"}, c.Candidates(time.Friday, false))
	assert.Equal(t, []string{"Kimchi Stew"}, c.Candidates(time.Friday, true))
}

func TestRandom_PickIsUniformOverCandidates(t *testing.T) {
	var gotN []int
	idx := 0
	r := NewRandom(testCatalog(), func(n int) int {
		gotN = append(gotN, n)
		defer func() { idx++ }()
		return idx % n
	})

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		name, err := r.Pick(time.Monday, false)
		require.NoError(t, err)
		seen[name] = true
	}
	assert.Equal(t, map[string]bool{"Kimchi Stew": true, "Sushi": true, "Pizza": true}, seen)
	assert.Equal(t, []int{3, 3, 3}, gotN)
}

func TestRandom_NoCandidates(t *testing.T) {
	r := NewRandom(NewCatalog([]Item{{Name: "Sushi"}}), nil)

	_, err := r.Pick(time.Monday, true)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

type fakeWeather struct {
	assessment weather.Assessment
	err        error
}

func (f fakeWeather) Assess(ctx context.Context) (weather.Assessment, error) {
	return f.assessment, f.err
}

func TestWeatherAware_IndoorWhenAdverse(t *testing.T) {
	src := fakeWeather{assessment: weather.Assessment{
		StayIndoor: true,
		Reason:     "snow",
		Conditions: weather.Conditions{Temperature: -1, Description: "Snow", Code: 73, IsSnowing: true},
	}}
	sup := NewWeatherAware(NewRandom(testCatalog(), func(n int) int { return n - 1 }), src, func() time.Time { return monday }, time.UTC)

	sug, err := sup.Suggest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Pizza", sug.Menu)
	require.NotNil(t, sug.Weather)
	assert.True(t, sug.Weather.IndoorOnly)
	assert.Equal(t, "Snow", sug.Weather.Description)
	assert.InDelta(t, -1.0, sug.Weather.Temperature, 0.001)
}

func TestWeatherAware_AnyWhenMild(t *testing.T) {
	sup := NewWeatherAware(NewRandom(testCatalog(), func(n int) int { return 1 }), fakeWeather{}, func() time.Time { return monday }, time.UTC)

	sug, err := sup.Suggest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Sushi", sug.Menu)
	assert.Nil(t, sug.Weather)
}

func TestWeatherAware_WeatherFailurePropagates(t *testing.T) {
	boom := errors.New("timeout")
	sup := NewWeatherAware(NewRandom(testCatalog(), nil), fakeWeather{err: boom}, func() time.Time { return monday }, time.UTC)

	_, err := sup.Suggest(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestWeatherAware_NoSource(t *testing.T) {
	sup := NewWeatherAware(NewRandom(testCatalog(), func(n int) int { return 0 }), nil, func() time.Time { return monday }, time.UTC)

	sug, err := sup.Suggest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Kimchi Stew", sug.Menu)
}

func TestParseMenuList(t *testing.T) {
	items := ParseMenuList(" Ramen, ,Pho ,")
	require.Len(t, items, 2)
	assert.Equal(t, "Ramen", items[0].Name)
	assert.Equal(t, "Pho", items[1].Name)
	assert.True(t, items[0].Indoor)
}

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "menus.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
menus:
  - name: Kimchi Stew
    indoor: true
    excluded_days: [monday, Friday]
  - name: Sushi
`), 0644))

		items, err := LoadCatalogFile(path)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.True(t, items[0].Indoor)
		assert.False(t, items[0].AvailableOn(time.Friday))
		assert.True(t, items[1].AvailableOn(time.Friday))
	})

	t.Run("unknown weekday", func(t *testing.T) {
		path := filepath.Join(dir, "bad_day.yaml")
		require.NoError(t, os.WriteFile(path, []byte("menus:\n  - name: Sushi\n    excluded_days: [funday]\n"), 0644))
		_, err := LoadCatalogFile(path)
		require.Error(t, err)
	})

	t.Run("duplicate", func(t *testing.T) {
		path := filepath.Join(dir, "dup.yaml")
		require.NoError(t, os.WriteFile(path, []byte("menus:\n  - name: Sushi\n  - name: Sushi\n"), 0644))
		_, err := LoadCatalogFile(path)
		require.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		require.NoError(t, os.WriteFile(path, []byte("menus: []\n"), 0644))
		_, err := LoadCatalogFile(path)
		require.Error(t, err)
	})
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "menus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("menus:\n  - name: Sushi\n"), 0644))

	catalog := NewCatalog([]Item{{Name: "Sushi"}})
	w, err := NewWatcher(path, catalog, 20*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("menus:\n  - name: Ramen\n    indoor: true\n"), 0644))

	select {
	case err := <-w.reloaded:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	assert.Equal(t, []string{"Ramen"}, catalog.Candidates(time.Monday, true))
}
