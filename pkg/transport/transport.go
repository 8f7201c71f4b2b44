// Package transport opens the plain or TLS socket a raw transaction is
// written to. Certificates are never verified and no HTTP semantics are
// applied: what the caller writes is what the peer receives.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/timing"
	"github.com/WhileEndless/go-desync/pkg/tlsconfig"
)

// Config holds transport configuration.
type Config struct {
	Host        string
	Port        int
	Secure      bool
	ConnectIP   string        // dial this address instead of resolving Host
	SNI         string        // overrides Host as the TLS server name
	ConnTimeout time.Duration // bounds TCP connect and TLS handshake separately
	DNSTimeout  time.Duration
	TLSVersion  uint16 // pinned version; 0 means TLS 1.2
	Fingerprint string // optional browser ClientHello, see tlsconfig.FingerprintNames
	Proxy       *ProxyConfig
}

// ConnInfo describes an established connection.
type ConnInfo struct {
	RemoteAddr  string
	TLSVersion  string
	CipherSuite string
	ServerName  string
}

// Transport handles the network connection and TLS negotiation.
type Transport struct {
	resolver *net.Resolver
}

// New creates a new Transport instance.
func New() *Transport {
	return &Transport{
		resolver: net.DefaultResolver,
	}
}

// NewWithResolver creates a new Transport with a custom resolver.
func NewWithResolver(resolver *net.Resolver) *Transport {
	return &Transport{
		resolver: resolver,
	}
}

// Connect establishes a connection based on the configuration. There are no
// retries; every failure is returned as a structured error.
func (t *Transport) Connect(ctx context.Context, config Config, timer *timing.Timer) (net.Conn, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if timer == nil {
		timer = timing.NewTimer()
	}

	connTimeout := config.ConnTimeout
	if connTimeout <= 0 {
		connTimeout = constants.DefaultConnTimeout
	}

	dialAddr, err := t.dialAddress(ctx, config, timer)
	if err != nil {
		return nil, err
	}

	var conn net.Conn
	if config.Proxy != nil {
		conn, err = dialProxy(ctx, config.Proxy, dialAddr, connTimeout, timer)
	} else {
		conn, err = connectTCP(ctx, dialAddr, connTimeout, timer)
	}
	if err != nil {
		if errors.IsTimeoutError(err) {
			e := errors.NewTimeoutError("connect to "+dialAddr, connTimeout)
			e.Cause, e.Host, e.Port = err, config.Host, config.Port
			return nil, e
		}
		return nil, errors.NewConnectionError(config.Host, config.Port, err)
	}

	if !config.Secure {
		return conn, nil
	}

	tlsConn, err := upgradeTLS(ctx, conn, config, connTimeout, timer)
	if err != nil {
		conn.Close()
		return nil, errors.NewTLSError(config.Host, config.Port, err)
	}
	return tlsConn, nil
}

func validateConfig(config Config) error {
	if config.Host == "" {
		return errors.NewValidationError("host cannot be empty")
	}
	if config.Port <= 0 || config.Port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535")
	}
	if config.Fingerprint != "" {
		if _, ok := tlsconfig.LookupFingerprint(config.Fingerprint); !ok {
			return errors.NewValidationError("unknown TLS fingerprint " + config.Fingerprint)
		}
	}
	return nil
}

// dialAddress returns the address to connect to. Through a proxy that
// resolves names itself, the host name is passed on unresolved.
func (t *Transport) dialAddress(ctx context.Context, config Config, timer *timing.Timer) (string, error) {
	if config.Proxy != nil && config.Proxy.ResolveDNSViaProxy && config.ConnectIP == "" {
		return net.JoinHostPort(config.Host, strconv.Itoa(config.Port)), nil
	}
	return t.resolveAddress(ctx, config, timer)
}

func (t *Transport) resolveAddress(ctx context.Context, config Config, timer *timing.Timer) (string, error) {
	port := strconv.Itoa(config.Port)
	if config.ConnectIP != "" {
		return net.JoinHostPort(config.ConnectIP, port), nil
	}
	if ip := net.ParseIP(config.Host); ip != nil {
		return net.JoinHostPort(ip.String(), port), nil
	}

	timer.StartDNS()
	defer timer.EndDNS()

	dnsTimeout := config.DNSTimeout
	if dnsTimeout <= 0 {
		dnsTimeout = constants.DefaultDNSTimeout
	}

	ctxLookup, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	addrs, err := t.resolver.LookupIPAddr(ctxLookup, config.Host)
	if err != nil {
		return "", errors.NewDNSError(config.Host, err)
	}
	if len(addrs) == 0 {
		return "", errors.NewDNSError(config.Host, errors.NewValidationError("no IP addresses found"))
	}

	return net.JoinHostPort(addrs[0].IP.String(), port), nil
}

func connectTCP(ctx context.Context, dialAddr string, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTCP()
	defer timer.EndTCP()

	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", dialAddr)
	if err != nil {
		return nil, err
	}

	if err := setNoDelay(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// setNoDelay disables Nagle so probe bytes leave in the segments they were
// written in.
func setNoDelay(conn net.Conn) error {
	if tcp, ok := conn.(*net.TCPConn); ok {
		return tcp.SetNoDelay(true)
	}
	return nil
}

func upgradeTLS(ctx context.Context, conn net.Conn, config Config, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	tlsCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	serverName := config.SNI
	if serverName == "" {
		serverName = config.Host
	}

	if config.Fingerprint != "" {
		id, _ := tlsconfig.LookupFingerprint(config.Fingerprint)
		return handshakeUTLS(tlsCtx, conn, serverName, id, config.TLSVersion)
	}

	tlsConfig := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
		NextProtos:         []string{"http/1.1"},
	}
	tlsconfig.Pin(tlsConfig, config.TLSVersion)

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// handshakeUTLS performs the handshake with a browser ClientHello pinned to
// version. The browser's ALPN list is replaced with http/1.1 so the peer
// never switches to HTTP/2 underneath a raw HTTP/1.1 probe.
func handshakeUTLS(ctx context.Context, conn net.Conn, serverName string, id utls.ClientHelloID, version uint16) (net.Conn, error) {
	if version == 0 {
		version = tlsconfig.DefaultVersion
	}
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	tlsconfig.PinSpec(&spec, version)

	uConn := utls.UClient(conn, &utls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: true,
		NextProtos:         []string{"http/1.1"},
		MinVersion:         version,
		MaxVersion:         version,
	}, utls.HelloCustom)
	if err := uConn.ApplyPreset(&spec); err != nil {
		return nil, err
	}

	if err := uConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return uConn, nil
}

// Info reports metadata about an established connection.
func Info(conn net.Conn) ConnInfo {
	info := ConnInfo{RemoteAddr: conn.RemoteAddr().String()}
	switch c := conn.(type) {
	case *tls.Conn:
		state := c.ConnectionState()
		info.TLSVersion = tlsconfig.GetVersionName(state.Version)
		info.CipherSuite = tlsconfig.GetCipherSuiteName(state.CipherSuite)
		info.ServerName = state.ServerName
	case *utls.UConn:
		state := c.ConnectionState()
		info.TLSVersion = tlsconfig.GetVersionName(state.Version)
		info.CipherSuite = tlsconfig.GetCipherSuiteName(state.CipherSuite)
		info.ServerName = state.ServerName
	}
	return info
}
