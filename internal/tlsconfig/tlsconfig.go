// Package tlsconfig applies the client's TLS version and cipher-suite
// profile to a *tls.Config and turns the negotiated tls.ConnectionState
// back into the human-readable strings reqres.ConnMeta reports.
package tlsconfig

import "crypto/tls"

// VersionProfile bounds the TLS versions a handshake will accept.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

// ProfileSecure is the default: TLS 1.2 and 1.3, nothing older. A raw HTTP
// client has no browser-style fallback UI to warn a user before downgrading,
// so there is no profile here weaker than this one.
var ProfileSecure = VersionProfile{
	Min:         tls.VersionTLS12,
	Max:         tls.VersionTLS13,
	Description: "TLS 1.2+",
}

// ApplyVersionProfile sets cfg's version bounds from profile.
func ApplyVersionProfile(cfg *tls.Config, profile VersionProfile) {
	cfg.MinVersion = profile.Min
	cfg.MaxVersion = profile.Max
}

// cipherSuitesTLS12Secure is offered for a TLS 1.2 handshake; TLS 1.3
// negotiates its own suites and ignores this list entirely.
var cipherSuitesTLS12Secure = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ApplyCipherSuites restricts cfg to the AEAD-only TLS 1.2 suite list. It is
// a no-op once TLS 1.3 is in play.
func ApplyCipherSuites(cfg *tls.Config) {
	cfg.CipherSuites = cipherSuitesTLS12Secure
}

// VersionName returns a human-readable TLS version string for ConnMeta.
func VersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}

// CipherSuiteName wraps tls.CipherSuiteName, which already covers every
// suite Go's TLS stack can negotiate.
func CipherSuiteName(suite uint16) string {
	return tls.CipherSuiteName(suite)
}
