package forward

// ListenAddress is the wildcard every forwarding entry listens on; the
// connect port always mirrors the listen port.
const ListenAddress = "0.0.0.0"

// Entry is one live v4-to-v4 redirection mapping, owned by the host.
type Entry struct {
	ListenAddr  string
	ListenPort  uint16
	ConnectAddr string
	ConnectPort uint16
}

// Redirector is the host port-redirection control surface.
type Redirector interface {
	List() ([]Entry, error)
	Add(e Entry) error
	Delete(listenAddr string, listenPort uint16) error
}

// Resolver discovers the forwarding target address when the
// configuration does not supply one explicitly.
type Resolver interface {
	Resolve() (string, error)
}
