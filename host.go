package librq

import (
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// parseHost parses a controller endpoint per spec.md §6: `ipv4[:port]`,
// `[ipv6][:port]`, or a bare address (port 0 if omitted). Port 0 means
// "unspecified" and must be filled in by the caller layer (Config's
// DefaultPort) before a real connection is attempted.
func parseHost(host string) (addr string, port int, err error) {
	if host == "" {
		return "", 0, &ConfigError{Field: "host", Reason: "empty"}
	}

	if strings.HasPrefix(host, "[") {
		end := strings.IndexByte(host, ']')
		if end < 0 {
			return "", 0, &ConfigError{Field: "host", Reason: "unterminated ipv6 bracket"}
		}
		addr = host[1:end]
		rest := host[end+1:]
		if rest == "" {
			return addr, 0, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, &ConfigError{Field: "host", Reason: "malformed bracket form"}
		}
		port, err = parsePort(rest[1:])
		if err != nil {
			return "", 0, err
		}
		return addr, port, nil
	}

	switch strings.Count(host, ":") {
	case 0:
		return host, 0, nil
	case 1:
		h, p, splitErr := net.SplitHostPort(host)
		if splitErr != nil {
			return "", 0, &ConfigError{Field: "host", Reason: splitErr.Error()}
		}
		port, err = parsePort(p)
		if err != nil {
			return "", 0, err
		}
		return h, port, nil
	default:
		return "", 0, &ConfigError{Field: "host", Reason: "bare ipv6 address must be bracketed"}
	}
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ConfigError{Field: "port", Reason: "not numeric"}
	}
	if p < 1 || p > 65535 {
		return 0, &ConfigError{Field: "port", Reason: "out of range 1-65535"}
	}
	return p, nil
}

// resolveSockaddr resolves addr:port (addr already extracted by parseHost)
// into a raw socket address plus address family, doing DNS resolution for
// names that aren't literal IPs.
func resolveSockaddr(addr string, port int) (unix.Sockaddr, int, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		ips, err := net.LookupIP(addr)
		if err != nil || len(ips) == 0 {
			return nil, 0, &ConfigError{Field: "host", Reason: "cannot resolve " + addr}
		}
		ip = ips[0]
	}

	if v4 := ip.To4(); v4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = port
		copy(sa.Addr[:], v4)
		return &sa, unix.AF_INET, nil
	}

	v6 := ip.To16()
	if v6 == nil {
		return nil, 0, &ConfigError{Field: "host", Reason: "unrecognized address " + addr}
	}
	var sa unix.SockaddrInet6
	sa.Port = port
	copy(sa.Addr[:], v6)
	return &sa, unix.AF_INET6, nil
}
