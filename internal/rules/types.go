package rules

import "errors"

type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// Unit is the atomic reconciliation entity: one (port, protocol) pair
// carrying the metadata of the configuration row it was expanded from.
type Unit struct {
	Port        uint16
	Protocol    Protocol
	Description string
	Enabled     bool
	SourceSpec  string
	// Forwardable is true iff the unit is TCP, its row has forwarding
	// enabled, and its row is not local-only.
	Forwardable bool
}

// Key identifies a unit across runs. Enabled-state changes do not alter
// the key, so a flipped Enabled flag never looks like a removal.
type Key struct {
	Port        uint16
	Protocol    Protocol
	Description string
}

func (u Unit) Key() Key {
	return Key{Port: u.Port, Protocol: u.Protocol, Description: u.Description}
}

// LiveRule is one filter rule as reported by the host firewall.
type LiveRule struct {
	Name    string
	Enabled bool
}

// Firewall is the host packet-filter control surface. Implementations
// are thin adapters over OS facilities and hold their own scope
// configuration (profile list and the like).
type Firewall interface {
	// List returns all rules whose name starts with prefix, keyed by name.
	List(prefix string) (map[string]LiveRule, error)
	Create(name string, port uint16, proto Protocol, enabled bool) error
	SetEnabled(name string, enabled bool) error
	Delete(name string) error
}

// ErrNotFound reports that a deletion target does not exist. Adapters
// wrap their platform's not-found condition with it so the reconciler
// can count it as benign.
var ErrNotFound = errors.New("rule not found")
