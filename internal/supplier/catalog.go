package supplier

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Item is one menu the bot may suggest.
type Item struct {
	Name string `yaml:"name" json:"name"`
	// Indoor marks menus that are fine when the weather keeps people inside.
	Indoor bool `yaml:"indoor" json:"indoor"`
	// ExcludedDays lists weekday names (e.g. "monday") the menu is not offered on.
	ExcludedDays []string `yaml:"excluded_days,omitempty" json:"excludedDays,omitempty"`
}

// AvailableOn reports whether the item may be suggested on day.
func (i Item) AvailableOn(day time.Weekday) bool {
	for _, d := range i.ExcludedDays {
		if strings.EqualFold(strings.TrimSpace(d), day.String()) {
			return false
		}
	}
	return true
}

type catalogFile struct {
	Menus []Item `yaml:"menus"`
}

// DefaultMenus is used when neither a catalog file nor ALTERNATIVE_MENUS is set.
var DefaultMenus = []Item{
	{Name: "Kimchi Stew", Indoor: true},
	{Name: "Soybean Paste Stew", Indoor: true},
	{Name: "Budae Jjigae", Indoor: true},
	{Name: "Bibimbap", Indoor: true},
	{Name: "Jeyuk Bokkeum"},
	{Name: "Donkatsu", Indoor: true},
	{Name: "Bulgogi"},
	{Name: "Samgyeopsal"},
	{Name: "Fried Chicken", Indoor: true},
	{Name: "Pizza", Indoor: true},
	{Name: "Pasta"},
	{Name: "Hamburger", Indoor: true},
	{Name: "Sushi"},
	{Name: "Ramen"},
	{Name: "Pho"},
}

// Catalog is the set of menus shared by suppliers. It is safe for concurrent
// use and may be replaced at runtime by a Watcher.
type Catalog struct {
	mu    sync.RWMutex
	items []Item
}

// NewCatalog creates a catalog holding items.
func NewCatalog(items []Item) *Catalog {
	c := &Catalog{}
	c.Replace(items)
	return c
}

// Replace swaps the catalog content.
func (c *Catalog) Replace(items []Item) {
	cp := make([]Item, len(items))
	copy(cp, items)
	c.mu.Lock()
	c.items = cp
	c.mu.Unlock()
}

// Items returns a copy of the catalog content.
func (c *Catalog) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// Candidates returns the names offered on day, restricted to indoor menus
// when indoorOnly is set.
func (c *Catalog) Candidates(day time.Weekday, indoorOnly bool) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for _, it := range c.items {
		if indoorOnly && !it.Indoor {
			continue
		}
		if !it.AvailableOn(day) {
			continue
		}
		names = append(names, it.Name)
	}
	return names
}

// LoadCatalogFile reads a YAML catalog of the form:
//
//	menus:
//	  - name: Kimchi Stew
//	    indoor: true
//	    excluded_days: [monday]
func LoadCatalogFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse menu catalog %s: %w", path, err)
	}
	if err := validate(f.Menus); err != nil {
		return nil, fmt.Errorf("invalid menu catalog %s: %w", path, err)
	}
	return f.Menus, nil
}

var weekdays = map[string]bool{
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

func validate(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("no menus defined")
	}
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		name := strings.TrimSpace(it.Name)
		if name == "" {
			return fmt.Errorf("menu #%d has no name", i+1)
		}
		if seen[name] {
			return fmt.Errorf("duplicate menu %q", name)
		}
		seen[name] = true
		for _, d := range it.ExcludedDays {
			if !weekdays[strings.ToLower(strings.TrimSpace(d))] {
				return fmt.Errorf("menu %q: unknown weekday %q", name, d)
			}
		}
	}
	return nil
}

// ParseMenuList turns a comma separated list into catalog items. Plain lists
// carry no weather information, so every entry counts as indoor-friendly.
func ParseMenuList(csv string) []Item {
	var items []Item
	for _, part := range strings.Split(csv, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		items = append(items, Item{Name: name, Indoor: true})
	}
	return items
}
