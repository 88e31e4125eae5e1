//go:build linux

package forward

import "errors"

// ErrNoGuestAddress reports that guest address discovery is not
// available on this platform; forwarding then needs an explicit target.
var ErrNoGuestAddress = errors.New("no guest address discovery on this platform")

type noopResolver struct{}

func NewResolver() Resolver {
	return noopResolver{}
}

func (noopResolver) Resolve() (string, error) {
	return "", ErrNoGuestAddress
}
