package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mini-subway-board/poller/internal/static/gtfs"
)

// RouteStyle is how a route is drawn: its lane on the track diagram and its colour
type RouteStyle struct {
	Lane  float64 `yaml:"lane" json:"lane" validate:"gte=0"`
	Color string  `yaml:"color" json:"color" validate:"required,hexcolor"`
}

// RouteStyles maps route ids to styles, with a fallback for unlisted routes
type RouteStyles struct {
	Default RouteStyle            `yaml:"default" json:"default" validate:"required"`
	Routes  map[string]RouteStyle `yaml:"routes" json:"routes" validate:"dive"`
}

// LexingtonGreen is the 4/5/6 line colour
const LexingtonGreen = "#00933C"

// DefaultRouteStyles returns the built-in table for the Lexington Avenue lines
func DefaultRouteStyles() RouteStyles {
	return RouteStyles{
		Default: RouteStyle{Lane: 200, Color: LexingtonGreen},
		Routes: map[string]RouteStyle{
			"4": {Lane: 50, Color: LexingtonGreen},
			"5": {Lane: 100, Color: LexingtonGreen},
			"6": {Lane: 150, Color: LexingtonGreen},
		},
	}
}

// LoadRouteStyles reads and validates a YAML route table. An empty path
// returns the built-in table.
func LoadRouteStyles(path string) (RouteStyles, error) {
	if path == "" {
		return DefaultRouteStyles(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RouteStyles{}, fmt.Errorf("failed to read route styles: %w", err)
	}
	return ParseRouteStyles(data)
}

// ParseRouteStyles decodes and validates a YAML route table
func ParseRouteStyles(data []byte) (RouteStyles, error) {
	var styles RouteStyles
	if err := yaml.Unmarshal(data, &styles); err != nil {
		return RouteStyles{}, fmt.Errorf("failed to parse route styles: %w", err)
	}

	v := validator.New()
	if err := v.Struct(styles); err != nil {
		return RouteStyles{}, fmt.Errorf("invalid route styles: %w", err)
	}

	if styles.Routes == nil {
		styles.Routes = map[string]RouteStyle{}
	}
	return styles, nil
}

// Style returns the style for a route, or the default
func (r RouteStyles) Style(route string) RouteStyle {
	if s, ok := r.Routes[route]; ok {
		return s
	}
	return r.Default
}

// WithGTFSColors returns a copy whose colours come from routes.txt where the
// feed provides one. Routes missing from the table are added on the default lane.
func (r RouteStyles) WithGTFSColors(routes []gtfs.Route) RouteStyles {
	out := RouteStyles{Default: r.Default, Routes: make(map[string]RouteStyle, len(r.Routes))}
	for id, s := range r.Routes {
		out.Routes[id] = s
	}

	for _, route := range routes {
		color := strings.TrimPrefix(strings.TrimSpace(route.RouteColor), "#")
		if route.RouteID == "" || color == "" {
			continue
		}
		s, ok := out.Routes[route.RouteID]
		if !ok {
			s = RouteStyle{Lane: r.Default.Lane}
		}
		s.Color = "#" + strings.ToUpper(color)
		out.Routes[route.RouteID] = s
	}

	return out
}
