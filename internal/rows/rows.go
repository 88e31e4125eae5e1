// Package rows reads the tabular port configuration authored by the user.
// Each row describes one port or port range to expose, with optional
// columns falling back to declared defaults.
package rows

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

type Location string

const (
	LocationLocal  Location = "local"
	LocationRemote Location = "remote"
)

// PortRow is one configuration entry with every optional field resolved
// to its default at parse time.
type PortRow struct {
	Spec           string
	Description    string
	Protocol       string
	Enabled        bool
	Forwarding     bool
	ForwardAddress string
	Location       Location
}

// Recognized header names, lowercased. Optional columns may be absent
// from the file entirely.
const (
	colPort           = "port"
	colDescription    = "description"
	colProtocol       = "protocol"
	colEnabled        = "enabled"
	colForwarding     = "portforwarding"
	colForwardAddress = "forwardaddress"
	colLocation       = "location"
)

// Load reads the port table from path. An unreadable file is the one
// fatal condition of a run, so the error is returned as-is.
func Load(path string) ([]PortRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open port configuration: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads CSV rows from r. The first record is the header; column
// order is free and header matching is case-insensitive.
func Parse(r io.Reader) ([]PortRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	columns := make(map[string]int)
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{colPort, colDescription, colProtocol} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("port configuration is missing the %q column", required)
		}
	}

	var result []PortRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Int("line", line).Err(err).Msg("skipping malformed row")
			continue
		}
		result = append(result, rowFromRecord(columns, record))
	}
	return result, nil
}

func rowFromRecord(columns map[string]int, record []string) PortRow {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	return PortRow{
		Spec:           field(colPort),
		Description:    field(colDescription),
		Protocol:       field(colProtocol),
		Enabled:        parseBool(field(colEnabled), true),
		Forwarding:     parseBool(field(colForwarding), true),
		ForwardAddress: field(colForwardAddress),
		Location:       parseLocation(field(colLocation)),
	}
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(value) {
	case "":
		return fallback
	case "true", "yes", "y", "1":
		return true
	case "false", "no", "n", "0":
		return false
	default:
		return fallback
	}
}

func parseLocation(value string) Location {
	if strings.EqualFold(value, string(LocationLocal)) {
		return LocationLocal
	}
	return LocationRemote
}
