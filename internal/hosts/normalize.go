package hosts

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// Endpoint is a normalized probe target.
type Endpoint struct {
	Host string
	Port int
}

// Address returns host:port suitable for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string { return e.Address() }

// Normalize turns a host entry into an endpoint. URLs lose their scheme and
// path, an explicit port wins over defaultPort, and internationalized names are
// converted to their ASCII form.
func Normalize(entry string, defaultPort int) (Endpoint, error) {
	s := strings.TrimSpace(entry)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host", ErrInput)
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInput, entry, err)
		}
		if u.Host == "" {
			return Endpoint{}, fmt.Errorf("%w: %q has no host", ErrInput, entry)
		}
		s = u.Host
	} else if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	host, port := s, defaultPort
	if h, p, err := net.SplitHostPort(s); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return Endpoint{}, fmt.Errorf("%w: %q has invalid port %q", ErrInput, entry, p)
		}
		host, port = h, n
	} else if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		host = s[1 : len(s)-1]
	}

	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: %q has no host", ErrInput, entry)
	}
	if net.ParseIP(host) == nil && !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInput, entry, err)
		}
		host = ascii
	}
	return Endpoint{Host: host, Port: port}, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
