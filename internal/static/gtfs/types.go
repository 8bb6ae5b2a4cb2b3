package gtfs

// Data holds the static GTFS files the poller reads
type Data struct {
	Routes []Route
	Stops  []Stop
}

// Route represents a route from routes.txt
type Route struct {
	RouteID        string `csv:"route_id"`
	AgencyID       string `csv:"agency_id"`
	RouteShortName string `csv:"route_short_name"`
	RouteLongName  string `csv:"route_long_name"`
	RouteType      string `csv:"route_type"`
	RouteColor     string `csv:"route_color"`
	RouteTextColor string `csv:"route_text_color"`
}

// Stop represents a stop from stops.txt
type Stop struct {
	StopID        string  `csv:"stop_id"`
	StopCode      string  `csv:"stop_code"`
	StopName      string  `csv:"stop_name"`
	StopLat       float64 `csv:"stop_lat"`
	StopLon       float64 `csv:"stop_lon"`
	LocationType  string  `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
}

// IsStation reports whether the stop is a parent station (location_type 1)
func (s Stop) IsStation() bool {
	return s.LocationType == "1"
}
