package render

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Table writes the arrivals table followed by the status line
func Table(w io.Writer, view View) error {
	if view.StationName != "" {
		if _, err := fmt.Fprintf(w, "%s\n\n", view.StationName); err != nil {
			return err
		}
	}

	if len(view.Rows) == 0 {
		if _, err := fmt.Fprintln(w, "No upcoming trains."); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ROUTE\tARRIVAL\tMIN")
		for _, r := range view.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", r.Route, r.Arrival, r.MinutesAway)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "\n%s\n", view.Status)
	return err
}
