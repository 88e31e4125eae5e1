//go:build windows

package forward

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"unicode/utf16"
)

var ipv4Pattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)

// wslResolver asks the default WSL distribution for its address. Used
// only when no explicit forward target is configured.
type wslResolver struct{}

func NewResolver() Resolver {
	return wslResolver{}
}

func (wslResolver) Resolve() (string, error) {
	out, err := exec.Command("wsl", "--", "hostname", "-I").Output()
	if err != nil {
		return "", fmt.Errorf("failed to query WSL address: %w", err)
	}

	text := strings.TrimSpace(decodeWSLOutput(out))
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("WSL returned no address")
	}
	ip := fields[0]
	if !ipv4Pattern.MatchString(ip) {
		return "", fmt.Errorf("WSL returned an unexpected address %q", ip)
	}
	return ip, nil
}

// decodeWSLOutput copes with wsl.exe emitting UTF-16LE on some Windows
// builds.
func decodeWSLOutput(out []byte) string {
	if len(out) < 2 || len(out)%2 != 0 || out[1] != 0 {
		return string(out)
	}
	u16 := make([]uint16, len(out)/2)
	for i := range u16 {
		u16[i] = uint16(out[i*2]) | uint16(out[i*2+1])<<8
	}
	return string(utf16.Decode(u16))
}
