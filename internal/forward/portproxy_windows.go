//go:build windows

package forward

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// portproxy drives the netsh interface portproxy v4tov4 table.
type portproxy struct{}

// NewRedirector returns the netsh portproxy-backed redirection surface.
func NewRedirector() (Redirector, error) {
	if _, err := exec.LookPath("netsh"); err != nil {
		return nil, fmt.Errorf("netsh.exe not found in PATH: %w", err)
	}
	return portproxy{}, nil
}

// List parses the tabular output of netsh; data lines carry four fields:
// listenaddress, listenport, connectaddress, connectport.
func (portproxy) List() ([]Entry, error) {
	out, err := exec.Command("netsh", "interface", "portproxy", "show", "v4tov4").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to query portproxy table: %w", err)
	}

	var entries []Entry
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 4 {
			continue
		}
		listenPort, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			continue
		}
		connectPort, err := strconv.ParseUint(fields[3], 10, 16)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ListenAddr:  fields[0],
			ListenPort:  uint16(listenPort),
			ConnectAddr: fields[2],
			ConnectPort: uint16(connectPort),
		})
	}
	return entries, nil
}

func (portproxy) Add(e Entry) error {
	out, err := exec.Command("netsh", "interface", "portproxy", "add", "v4tov4",
		fmt.Sprintf("listenport=%d", e.ListenPort),
		"listenaddress="+e.ListenAddr,
		fmt.Sprintf("connectport=%d", e.ConnectPort),
		"connectaddress="+e.ConnectAddr,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("netsh portproxy add failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (portproxy) Delete(listenAddr string, listenPort uint16) error {
	out, err := exec.Command("netsh", "interface", "portproxy", "delete", "v4tov4",
		fmt.Sprintf("listenport=%d", listenPort),
		"listenaddress="+listenAddr,
	).CombinedOutput()
	if err != nil {
		return fmt.Errorf("netsh portproxy delete failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
