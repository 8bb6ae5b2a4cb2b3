package render

import (
	"time"

	"github.com/mini-subway-board/poller/internal/scheduler"
)

// Row is one line of the arrivals table
type Row struct {
	Route       string `json:"route"`
	Arrival     string `json:"arrival"`
	MinutesAway int    `json:"minutesAway"`
	Color       string `json:"color"`
}

// Marker is one train on the track diagram
type Marker struct {
	ID    string  `json:"id"`
	Route string  `json:"route"`
	X     float64 `json:"x"`
	Lane  float64 `json:"lane"`
	Color string  `json:"color"`
}

// View is everything a display needs to draw the board
type View struct {
	StationKey  string   `json:"stationKey"`
	StationName string   `json:"stationName"`
	Rows        []Row    `json:"rows"`
	Markers     []Marker `json:"markers"`
	Status      string   `json:"status"`
	Phase       string   `json:"phase"`
}

// BuildView projects a board into display rows and markers. Clock times are
// shown in loc.
func BuildView(board *scheduler.Board, styles RouteStyles, loc *time.Location, now time.Time) View {
	if loc == nil {
		loc = time.Local
	}

	view := View{
		StationKey:  board.StationKey,
		StationName: board.StationKey,
		Rows:        make([]Row, 0, len(board.Arrivals)),
		Markers:     make([]Marker, 0, len(board.Positions)),
		Status:      StatusLine(board, loc),
		Phase:       string(board.Phase),
	}

	for _, a := range board.Arrivals {
		minutes := int(a.Time().Sub(now) / time.Minute)
		if minutes < 0 {
			minutes = 0
		}
		view.Rows = append(view.Rows, Row{
			Route:       a.Route,
			Arrival:     a.Time().In(loc).Format("15:04:05"),
			MinutesAway: minutes,
			Color:       styles.Style(a.Route).Color,
		})
	}

	for _, p := range board.Positions {
		style := styles.Style(p.Route)
		view.Markers = append(view.Markers, Marker{
			ID:    p.ID,
			Route: p.Route,
			X:     p.Position,
			Lane:  style.Lane,
			Color: style.Color,
		})
	}

	return view
}

// StatusLine is the "last updated" indicator for a board
func StatusLine(board *scheduler.Board, loc *time.Location) string {
	failed := board.Status == scheduler.PhaseError

	if board.Updating() {
		if failed {
			return "Update failed"
		}
		return "Updating..."
	}

	line := "Last updated: " + board.LastUpdated.In(loc).Format("15:04:05")
	if failed {
		line += " (update failed)"
	}
	return line
}
