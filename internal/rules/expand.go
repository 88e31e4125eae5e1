package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/micrictor/openport/internal/rows"
)

// Validation sentinels. A row failing validation is skipped with a
// warning; it never aborts the run.
var (
	ErrInvalidPortSpec = errors.New("invalid port spec")
	ErrInvalidRange    = errors.New("invalid port range")
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrMissingField    = errors.New("missing required field")
)

var specPattern = regexp.MustCompile(`^(\d+)(?:-(\d+))?$`)

// Expand turns one configuration row into its canonical units, one per
// (port, protocol) pair. It is a pure function over the row.
func Expand(row rows.PortRow) ([]Unit, error) {
	if row.Spec == "" {
		return nil, fmt.Errorf("%w: port", ErrMissingField)
	}
	if row.Description == "" {
		return nil, fmt.Errorf("%w: description", ErrMissingField)
	}
	if row.Protocol == "" {
		return nil, fmt.Errorf("%w: protocol", ErrMissingField)
	}

	start, end, err := parseSpec(row.Spec)
	if err != nil {
		return nil, err
	}

	protocols, err := parseProtocol(row.Protocol)
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, (int(end)-int(start)+1)*len(protocols))
	for port := int(start); port <= int(end); port++ {
		for _, proto := range protocols {
			units = append(units, Unit{
				Port:        uint16(port),
				Protocol:    proto,
				Description: row.Description,
				Enabled:     row.Enabled,
				SourceSpec:  row.Spec,
				Forwardable: proto == ProtocolTCP && row.Forwarding && row.Location == rows.LocationRemote,
			})
		}
	}
	return units, nil
}

// ExpandAll expands every row, skipping invalid ones with a warning.
// Two rows expanding to the same (description, port, protocol) collapse
// last-write-wins; the collision is reported, not silently merged.
func ExpandAll(portRows []rows.PortRow) (units []Unit, skipped int) {
	seen := make(map[Key]int)
	for _, row := range portRows {
		expanded, err := Expand(row)
		if err != nil {
			log.Warn().Err(err).Str("port", row.Spec).Str("description", row.Description).
				Msg("skipping invalid row")
			skipped++
			continue
		}
		for _, unit := range expanded {
			if idx, dup := seen[unit.Key()]; dup {
				log.Warn().Uint16("port", unit.Port).Str("protocol", string(unit.Protocol)).
					Str("description", unit.Description).
					Str("previousSpec", units[idx].SourceSpec).Str("spec", unit.SourceSpec).
					Msg("duplicate rule identity, last row wins")
				units[idx] = unit
				continue
			}
			seen[unit.Key()] = len(units)
			units = append(units, unit)
		}
	}
	return units, skipped
}

func parseSpec(spec string) (start, end uint16, err error) {
	match := specPattern.FindStringSubmatch(spec)
	if match == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPortSpec, spec)
	}

	s, err := parsePort(match[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPortSpec, spec)
	}
	if match[2] == "" {
		return s, s, nil
	}

	e, err := parsePort(match[2])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidPortSpec, spec)
	}
	if s > e {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
	}
	return s, e, nil
}

func parsePort(value string) (uint16, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %q out of range", value)
	}
	return uint16(n), nil
}

func parseProtocol(value string) ([]Protocol, error) {
	switch strings.ToLower(value) {
	case "tcp":
		return []Protocol{ProtocolTCP}, nil
	case "udp":
		return []Protocol{ProtocolUDP}, nil
	case "both":
		return []Protocol{ProtocolTCP, ProtocolUDP}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProtocol, value)
	}
}
