package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-subway-board/poller/internal/arrivals"
	"github.com/mini-subway-board/poller/internal/position"
	"github.com/mini-subway-board/poller/internal/render"
	"github.com/mini-subway-board/poller/internal/scheduler"
	"github.com/mini-subway-board/poller/internal/static/gtfs"
	"github.com/mini-subway-board/poller/internal/stations"
)

type fakeBoard struct {
	mu        sync.Mutex
	board     *scheduler.Board
	selected  []string
	selectErr error
}

func (f *fakeBoard) Board() *scheduler.Board {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.board
}

func (f *fakeBoard) Select(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = append(f.selected, key)
	return nil
}

var testNow = time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)

func testDirectory() *stations.Directory {
	return stations.NewDirectory([]gtfs.Stop{
		{StopID: "635", StopName: "14 St-Union Sq", LocationType: "1"},
		{StopID: "635N", ParentStation: "635"},
		{StopID: "635S", ParentStation: "635"},
	})
}

func newTestServer(t *testing.T, board *fakeBoard, dir StationDirectory) *httptest.Server {
	t.Helper()
	h := NewHandler(board, dir, render.DefaultRouteStyles(), time.UTC)
	h.now = func() time.Time { return testNow }

	srv := httptest.NewServer(NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func readyBoard() *scheduler.Board {
	return &scheduler.Board{
		StationKey:  "635N",
		Token:       1,
		Phase:       scheduler.PhaseIdle,
		Status:      scheduler.PhaseReady,
		LastUpdated: testNow.Add(-5 * time.Second),
		Arrivals: []arrivals.Record{
			{ID: "A-1", TripID: "A.1", Route: "6", ArrivalEpochSeconds: testNow.Unix() + 90},
		},
		Positions: []position.Update{
			{ID: "A-1", Route: "6", Position: 100, TimeRemaining: 90 * time.Second},
		},
	}
}

func put(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetHealth(t *testing.T) {
	board := &fakeBoard{board: readyBoard()}
	srv := newTestServer(t, board, testDirectory())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "635N", body.StationKey)
	assert.Equal(t, "IDLE", body.Phase)
	require.NotNil(t, body.LastUpdated)
	assert.True(t, testNow.Add(-5*time.Second).Equal(*body.LastUpdated))
}

func TestGetHealthAfterFailure(t *testing.T) {
	b := readyBoard()
	b.Status = scheduler.PhaseError
	b.LastError = "feed fetch failed: timeout"
	srv := newTestServer(t, &fakeBoard{board: b}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "feed fetch failed: timeout", body.LastError)
}

func TestGetBoard(t *testing.T) {
	srv := newTestServer(t, &fakeBoard{board: readyBoard()}, testDirectory())

	resp, err := http.Get(srv.URL + "/api/board")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body BoardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	require.NotNil(t, body.Board)
	assert.Equal(t, []string{"A-1"}, arrivals.IDs(body.Board.Arrivals))

	assert.Equal(t, "14 St-Union Sq (Uptown)", body.View.StationName)
	require.Len(t, body.View.Rows, 1)
	assert.Equal(t, render.Row{Route: "6", Arrival: "17:01:30", MinutesAway: 1, Color: render.LexingtonGreen}, body.View.Rows[0])
	require.Len(t, body.View.Markers, 1)
	assert.Equal(t, 150.0, body.View.Markers[0].Lane)
	assert.Equal(t, "Last updated: 16:59:55", body.View.Status)
}

func TestGetStations(t *testing.T) {
	srv := newTestServer(t, &fakeBoard{board: readyBoard()}, testDirectory())

	resp, err := http.Get(srv.URL + "/api/stations")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body StationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "635N", body.Selected)
	assert.Equal(t, []stations.Option{
		{Key: "635S", Name: "14 St-Union Sq (Downtown)"},
		{Key: "635N", Name: "14 St-Union Sq (Uptown)"},
	}, body.Stations)
}

func TestGetStationsWithoutDirectory(t *testing.T) {
	srv := newTestServer(t, &fakeBoard{board: readyBoard()}, nil)

	resp, err := http.Get(srv.URL + "/api/stations")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body StationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Stations)
}

func TestSelectStation(t *testing.T) {
	board := &fakeBoard{board: readyBoard()}
	srv := newTestServer(t, board, testDirectory())

	resp := put(t, srv.URL+"/api/station", `{"stationKey":" 635S "}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body SelectStationRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "635S", body.StationKey)
	assert.Equal(t, []string{"635S"}, board.selected)
}

func TestSelectStationRejects(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{"stationKey":`, http.StatusBadRequest},
		{"missing key", `{}`, http.StatusBadRequest},
		{"blank key", `{"stationKey":"   "}`, http.StatusBadRequest},
		{"unknown station", `{"stationKey":"999N"}`, http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			board := &fakeBoard{board: readyBoard()}
			srv := newTestServer(t, board, testDirectory())

			resp := put(t, srv.URL+"/api/station", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			assert.Empty(t, board.selected)
		})
	}
}

func TestSelectStationWithoutDirectoryAcceptsAnyKey(t *testing.T) {
	board := &fakeBoard{board: readyBoard()}
	srv := newTestServer(t, board, nil)

	resp := put(t, srv.URL+"/api/station", `{"stationKey":"A27N"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"A27N"}, board.selected)
}

func TestSelectStationSchedulerUnavailable(t *testing.T) {
	board := &fakeBoard{board: readyBoard(), selectErr: context.DeadlineExceeded}
	srv := newTestServer(t, board, testDirectory())

	resp := put(t, srv.URL+"/api/station", `{"stationKey":"635S"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetRoutes(t *testing.T) {
	srv := newTestServer(t, &fakeBoard{board: readyBoard()}, nil)

	resp, err := http.Get(srv.URL + "/api/routes")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body render.RouteStyles
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, render.DefaultRouteStyles(), body)
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(t, &fakeBoard{board: readyBoard()}, nil)

	resp, err := http.Post(srv.URL+"/api/board", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
