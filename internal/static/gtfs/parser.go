package gtfs

import (
	"archive/zip"
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"
)

func init() {
	// Tolerate records with missing trailing columns
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.FieldsPerRecord = -1
		r.LazyQuotes = true
		return r
	})
}

// Parse reads stops.txt and routes.txt from a GTFS zip file
func Parse(zipPath string) (*Data, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	return ParseArchive(&r.Reader)
}

// ParseArchive reads stops.txt and routes.txt from an opened archive.
// stops.txt is required; a missing or unreadable routes.txt only logs.
func ParseArchive(archive *zip.Reader) (*Data, error) {
	files := make(map[string]*zip.File)
	for _, f := range archive.File {
		files[f.Name] = f
	}

	data := &Data{}

	f, ok := files["stops.txt"]
	if !ok {
		return nil, fmt.Errorf("stops.txt not found in archive")
	}
	if err := unmarshalFile(f, &data.Stops); err != nil {
		return nil, fmt.Errorf("failed to parse stops.txt: %w", err)
	}

	if f, ok := files["routes.txt"]; ok {
		if err := unmarshalFile(f, &data.Routes); err != nil {
			log.Warn().Err(err).Msg("GTFS: failed to parse routes.txt")
		}
	}

	log.Info().
		Int("stops", len(data.Stops)).
		Int("routes", len(data.Routes)).
		Msg("GTFS: parsed static data")

	return data, nil
}

func unmarshalFile(f *zip.File, destination interface{}) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	// Some feeds prefix the header with a UTF-8 byte order mark
	br := bufio.NewReader(rc)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	return gocsv.Unmarshal(br, destination)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}
