package stack

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/asynchttp/rawclient/internal/constants"
	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/timing"
	"github.com/asynchttp/rawclient/internal/tlsconfig"
	"github.com/asynchttp/rawclient/internal/urlx"
	"github.com/asynchttp/rawclient/internal/xerrors"
)

// transport is layer C1: it owns the raw net.Conn, dialing TCP and
// upgrading to TLS when the URL scheme calls for it. It has no notion of
// HTTP framing; protocol sits above it.
type transport struct {
	conn     net.Conn
	connMeta reqres.ConnMeta
}

// dialTimeout bounds both DNS resolution and the TCP handshake when the
// request does not carry its own deadline.
const dialTimeout = constants.DefaultConnTimeout

// dialTransport resolves u.Host to one or more IP addresses and connects to the
// first one that accepts a TCP connection, falling back through the
// remaining addresses on failure. This is the Go-idiomatic analogue of
// Happy Eyeballs: net.Dialer already interleaves A/AAAA when given the
// bare hostname, so resolution and connection are combined into one
// DialContext call instead of resolving separately first.
func dialTransport(ctx context.Context, u urlx.URL, ssl reqres.SSLSettings, timer *timing.Timer) (*transport, error) {
	timer.StartDNS()
	dialer := &net.Dialer{Timeout: dialTimeout}
	addr := net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	timer.EndDNS()
	if err != nil {
		return nil, xerrors.NewTransportError("dial", err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	meta := reqres.ConnMeta{}
	if remote := conn.RemoteAddr(); remote != nil {
		if tcpAddr, ok := remote.(*net.TCPAddr); ok {
			meta.ConnectedIP = tcpAddr.IP.String()
		}
	}

	if u.Protocol == urlx.ProtocolHTTPS {
		tlsConn, err := upgradeTLS(ctx, conn, u, ssl)
		if err != nil {
			conn.Close()
			return nil, xerrors.NewTLSError("handshake", err)
		}
		conn = tlsConn
		state := tlsConn.ConnectionState()
		meta.TLSVersion = tlsconfig.VersionName(state.Version)
		meta.TLSCipherSuite = tlsconfig.CipherSuiteName(state.CipherSuite)
	}

	return &transport{conn: conn, connMeta: meta}, nil
}

func upgradeTLS(ctx context.Context, conn net.Conn, u urlx.URL, ssl reqres.SSLSettings) (*tls.Conn, error) {
	cfg := &tls.Config{
		ServerName: u.Host,
		NextProtos: []string{"http/1.1"},
	}
	tlsconfig.ApplyVersionProfile(cfg, tlsconfig.ProfileSecure)
	tlsconfig.ApplyCipherSuites(cfg)

	if ssl.CABundlePath != "" {
		pem, err := os.ReadFile(ssl.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", ssl.CABundlePath)
		}
		cfg.RootCAs = pool
	}

	if ssl.ClientCertificatePath != "" && ssl.ClientPrivateKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(ssl.ClientCertificatePath, ssl.ClientPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		cfg.Certificates = append(cfg.Certificates, cert)
	}

	handshakeCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func (t *transport) Read(p []byte) (int, error)  { return t.conn.Read(p) }
func (t *transport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *transport) Close() error                { return t.conn.Close() }

func (t *transport) SetDeadline(d time.Time) error { return t.conn.SetDeadline(d) }

// isOpen does a one-byte liveness probe bounded by a 1ms read deadline,
// mirroring the teacher's pool check before handing an idle connection
// back out: on a live, idle socket the Read times out, versus io.EOF or a
// reset on a dead one. If a byte does arrive, it is consumed and the
// connection is reported as not open.
func (t *transport) isOpen() bool {
	t.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer t.conn.SetReadDeadline(time.Time{})
	one := make([]byte, 1)
	_, err := t.conn.Read(one)
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return true
	}
	return false
}
