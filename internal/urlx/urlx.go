// Package urlx implements the small URL grammar the client accepts:
// [protocol://]host[:port][/path][?query], defaulting protocol to "http"
// and port to 80/443. This is deliberately narrower than net/url: it exists
// only to satisfy the client's own round-trip invariant, not as a general
// purpose URL library.
package urlx

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	ProtocolHTTP  = "http"
	ProtocolHTTPS = "https"

	defaultPortHTTP  = 80
	defaultPortHTTPS = 443
)

// URL is the parsed form of a request target.
type URL struct {
	Protocol string
	Host     string
	Port     int
	Path     string
	Query    string
}

var grammar = regexp.MustCompile(`^((.+)://)?([A-Za-z0-9\-.]+)(:([0-9]+))?(/[^?]*)?(\?.*)?$`)

// Parse parses a URL string according to the grammar above. It rejects
// anything that does not match with a parse error.
func Parse(raw string) (URL, error) {
	m := grammar.FindStringSubmatch(raw)
	if m == nil {
		return URL{}, fmt.Errorf("urlx: failed to parse url %q", raw)
	}

	protocol := ProtocolHTTP
	if m[2] != "" {
		protocol = m[2]
	}

	var port int
	if m[5] != "" {
		p, err := strconv.Atoi(m[5])
		if err != nil || p <= 0 || p > 65535 {
			return URL{}, fmt.Errorf("urlx: invalid port in url %q", raw)
		}
		port = p
	} else {
		switch protocol {
		case ProtocolHTTP:
			port = defaultPortHTTP
		case ProtocolHTTPS:
			port = defaultPortHTTPS
		default:
			return URL{}, fmt.Errorf("urlx: unsupported protocol %q", protocol)
		}
	}

	if protocol != ProtocolHTTP && protocol != ProtocolHTTPS {
		return URL{}, fmt.Errorf("urlx: unsupported protocol %q", protocol)
	}

	host := m[3]
	path := m[6]
	if path == "" {
		path = "/"
	}
	query := m[7]

	return URL{Protocol: protocol, Host: host, Port: port, Path: path, Query: query}, nil
}

// FromParts builds a URL directly from its components, bypassing parsing.
// Used by the redirect policy to resolve a relative Location against the
// original request's protocol, host and port.
func FromParts(protocol, host string, port int, path, query string) URL {
	return URL{Protocol: protocol, Host: host, Port: port, Path: path, Query: query}
}

// String renders the URL back into its string form, omitting the port when
// it equals the scheme's default, so that Parse(u.String()) == u.
func (u URL) String() string {
	s := u.Protocol + "://" + u.Host
	isDefaultHTTP := u.Protocol == ProtocolHTTP && u.Port == defaultPortHTTP
	isDefaultHTTPS := u.Protocol == ProtocolHTTPS && u.Port == defaultPortHTTPS
	if !isDefaultHTTP && !isDefaultHTTPS && u.Port != 0 {
		s += ":" + strconv.Itoa(u.Port)
	}
	s += u.Path + u.Query
	return s
}

func (u URL) Equal(other URL) bool {
	return u.Protocol == other.Protocol && u.Host == other.Host && u.Port == other.Port &&
		u.Path == other.Path && u.Query == other.Query
}
