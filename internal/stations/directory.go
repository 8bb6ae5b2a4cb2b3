package stations

import (
	"cmp"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/mini-subway-board/poller/internal/static/gtfs"
)

// Option is one selectable station and direction
type Option struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Directory maps station keys (platform stop ids such as 635N) to display names
type Directory struct {
	names   map[string]string
	options []Option
}

var directionLabels = map[string]string{
	"N": "Uptown",
	"S": "Downtown",
}

// NewDirectory builds the directory from stops.txt. Every platform whose
// parent station is known becomes an option named after the parent plus
// its direction.
func NewDirectory(stops []gtfs.Stop) *Directory {
	parents := make(map[string]string)
	for _, s := range stops {
		if s.IsStation() {
			parents[s.StopID] = s.StopName
		}
	}

	d := &Directory{names: make(map[string]string)}
	for _, s := range stops {
		parentName, ok := parents[s.ParentStation]
		if !ok || s.StopID == "" {
			continue
		}
		if _, dup := d.names[s.StopID]; dup {
			continue
		}

		name := parentName
		if label := directionLabel(s.StopID, s.ParentStation); label != "" {
			name += " (" + label + ")"
		}

		d.names[s.StopID] = name
		d.options = append(d.options, Option{Key: s.StopID, Name: name})
	}

	slices.SortFunc(d.options, func(a, b Option) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	return d
}

// directionLabel describes the platform suffix after the parent id
func directionLabel(stopID, parentID string) string {
	suffix := strings.TrimPrefix(stopID, parentID)
	if suffix == stopID || suffix == "" {
		return ""
	}
	if label, ok := directionLabels[suffix]; ok {
		return label
	}
	return suffix
}

// Name returns the display name for a station key
func (d *Directory) Name(key string) (string, bool) {
	name, ok := d.names[key]
	return name, ok
}

// DisplayName returns the display name, or the key itself when unknown
func (d *Directory) DisplayName(key string) string {
	if name, ok := d.names[key]; ok {
		return name
	}
	return key
}

// Has reports whether key is selectable
func (d *Directory) Has(key string) bool {
	_, ok := d.names[key]
	return ok
}

// Options returns the selection list sorted by name
func (d *Directory) Options() []Option {
	return slices.Clone(d.options)
}

// Len returns the number of selectable keys
func (d *Directory) Len() int {
	return len(d.options)
}
