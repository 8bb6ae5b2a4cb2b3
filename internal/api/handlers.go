package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mini-subway-board/poller/internal/render"
	"github.com/mini-subway-board/poller/internal/scheduler"
	"github.com/mini-subway-board/poller/internal/stations"
)

// BoardSource is the scheduler as seen by the API
type BoardSource interface {
	Board() *scheduler.Board
	Select(ctx context.Context, stationKey string) error
}

// StationDirectory provides the station selection list
type StationDirectory interface {
	Options() []stations.Option
	Has(key string) bool
	DisplayName(key string) string
}

// Handler serves the board, station list and route table
type Handler struct {
	board    BoardSource
	stations StationDirectory // nil when static data is unavailable
	styles   render.RouteStyles
	loc      *time.Location
	now      func() time.Time
}

// NewHandler creates a handler. stations may be nil.
func NewHandler(board BoardSource, stations StationDirectory, styles render.RouteStyles, loc *time.Location) *Handler {
	return &Handler{
		board:    board,
		stations: stations,
		styles:   styles,
		loc:      loc,
		now:      time.Now,
	}
}

// ErrorResponse is the JSON error response structure
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status      string     `json:"status"`
	StationKey  string     `json:"stationKey"`
	Phase       string     `json:"phase"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// BoardResponse is the JSON response for GET /api/board
type BoardResponse struct {
	Board *scheduler.Board `json:"board"`
	View  render.View      `json:"view"`
}

// StationsResponse is the JSON response for GET /api/stations
type StationsResponse struct {
	Stations []stations.Option `json:"stations"`
	Selected string            `json:"selected"`
	Count    int               `json:"count"`
}

// SelectStationRequest is the body of PUT /api/station
type SelectStationRequest struct {
	StationKey string `json:"stationKey"`
}

// GetHealth handles GET /health
// Reports 503 while the last poll failed
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	board := h.board.Board()

	resp := HealthResponse{
		Status:     "ok",
		StationKey: board.StationKey,
		Phase:      string(board.Phase),
		LastError:  board.LastError,
		Timestamp:  h.now().UTC(),
	}
	if !board.LastUpdated.IsZero() {
		t := board.LastUpdated.UTC()
		resp.LastUpdated = &t
	}

	status := http.StatusOK
	if board.Status == scheduler.PhaseError {
		resp.Status = "error"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

// GetBoard handles GET /api/board
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	board := h.board.Board()

	view := render.BuildView(board, h.styles, h.loc, h.now())
	if h.stations != nil {
		view.StationName = h.stations.DisplayName(board.StationKey)
	}

	writeJSON(w, http.StatusOK, BoardResponse{Board: board, View: view})
}

// GetStations handles GET /api/stations
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	options := []stations.Option{}
	if h.stations != nil {
		options = h.stations.Options()
	}

	writeJSON(w, http.StatusOK, StationsResponse{
		Stations: options,
		Selected: h.board.Board().StationKey,
		Count:    len(options),
	})
}

// SelectStation handles PUT /api/station
// Switches the board to another station; the new selection is fetched immediately
func (h *Handler) SelectStation(w http.ResponseWriter, r *http.Request) {
	var req SelectStationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	key := strings.TrimSpace(req.StationKey)
	if key == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "stationKey is required"})
		return
	}

	if h.stations != nil && !h.stations.Has(key) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "Unknown station",
			Details: map[string]interface{}{"stationKey": key},
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.board.Select(ctx, key); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, scheduler.ErrInvalidStation) {
			status = http.StatusBadRequest
		}
		log.Warn().Err(err).Str("station", key).Msg("API: station selection failed")
		writeJSON(w, status, ErrorResponse{Error: "Failed to select station"})
		return
	}

	writeJSON(w, http.StatusAccepted, SelectStationRequest{StationKey: key})
}

// GetRoutes handles GET /api/routes
func (h *Handler) GetRoutes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.styles)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("API: failed to encode response")
	}
}
