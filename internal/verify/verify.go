// Package verify runs a throwaway HTTP or HTTPS listener on a port so
// the operator can confirm that a freshly opened rule actually passes
// traffic from another machine.
package verify

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Port %d is open</title></head>
<body>
<h1>Port %d is open</h1>
<ul>
<li>Hostname: %s</li>
<li>Local IP: %s</li>
<li>Listen port: %d</li>
<li>Scheme: %s</li>
<li>Client: %s</li>
</ul>
</body>
</html>
`

// Handler serves the success page for port, reporting each requester.
func Handler(port uint16, scheme string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Info().Str("client", r.RemoteAddr).Str("path", r.URL.Path).
			Msg("verification request")

		hostname, _ := os.Hostname()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, page, port, port, hostname, localIP(), port, scheme, r.RemoteAddr)
	})
}

// Serve listens on the wildcard address until the process is stopped.
// Supplying a certificate and key switches the listener to HTTPS.
func Serve(port uint16, certFile, keyFile string) error {
	scheme := "http"
	if certFile != "" {
		scheme = "https"
	}
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{Addr: addr, Handler: Handler(port, scheme)}

	log.Info().Str("addr", addr).Str("scheme", scheme).Msg("verification server listening")
	if scheme == "https" {
		return srv.ListenAndServeTLS(certFile, keyFile)
	}
	return srv.ListenAndServe()
}

// localIP returns the host's first non-loopback IPv4 address, or empty
// if none is configured.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
