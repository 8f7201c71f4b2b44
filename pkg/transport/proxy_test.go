package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/timing"
)

// echoServer answers every line it reads with "echo: <line>".
func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				io.WriteString(conn, "echo: "+line)
			}()
		}
	}()
	return ln.Addr().String()
}

func pipe(a, b net.Conn) {
	go io.Copy(a, b)
	io.Copy(b, a)
}

// connectProxy is a minimal HTTP CONNECT proxy that tunnels every request to
// backend and reports the CONNECT target and auth header it saw.
func connectProxy(t *testing.T, backend string, status string) (string, <-chan [2]string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	seen := make(chan [2]string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		br := bufio.NewReader(conn)
		requestLine, _ := br.ReadString('\n')
		var auth string
		for {
			line, err := br.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
			if strings.HasPrefix(line, "Proxy-Authorization:") {
				auth = strings.TrimSpace(strings.TrimPrefix(line, "Proxy-Authorization:"))
			}
		}
		fields := strings.Fields(requestLine)
		if len(fields) > 1 {
			seen <- [2]string{fields[1], auth}
		}

		io.WriteString(conn, "HTTP/1.1 "+status+"\r\n\r\n")
		if !strings.HasPrefix(status, "200") {
			return
		}
		upstream, err := net.Dial("tcp", backend)
		if err != nil {
			return
		}
		defer upstream.Close()
		pipe(conn, upstream)
	}()
	return ln.Addr().String(), seen
}

// socks5Proxy is a minimal no-auth SOCKS5 server that tunnels to backend and
// reports the requested destination.
func socks5Proxy(t *testing.T, backend string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	seen := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		greeting := make([]byte, 2)
		if _, err := io.ReadFull(conn, greeting); err != nil {
			return
		}
		methods := make([]byte, greeting[1])
		io.ReadFull(conn, methods)
		conn.Write([]byte{5, 0})

		head := make([]byte, 4)
		if _, err := io.ReadFull(conn, head); err != nil {
			return
		}
		var host string
		switch head[3] {
		case 1:
			ip := make([]byte, 4)
			io.ReadFull(conn, ip)
			host = net.IP(ip).String()
		case 3:
			n := make([]byte, 1)
			io.ReadFull(conn, n)
			name := make([]byte, n[0])
			io.ReadFull(conn, name)
			host = string(name)
		case 4:
			ip := make([]byte, 16)
			io.ReadFull(conn, ip)
			host = net.IP(ip).String()
		}
		port := make([]byte, 2)
		io.ReadFull(conn, port)
		seen <- net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(port))))

		conn.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
		upstream, err := net.Dial("tcp", backend)
		if err != nil {
			return
		}
		defer upstream.Close()
		pipe(conn, upstream)
	}()
	return ln.Addr().String(), seen
}

func roundTrip(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err := io.WriteString(conn, "ping\n")
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestParseProxyURL(t *testing.T) {
	tests := []struct {
		in       string
		wantType string
		wantPort int
		wantUser string
		remote   bool
		wantErr  bool
	}{
		{in: "http://127.0.0.1:8080", wantType: "http", wantPort: 8080, remote: true},
		{in: "proxy.local", wantType: "http", wantPort: 8080, remote: true},
		{in: "http://user:pw@proxy.local:3128", wantType: "http", wantPort: 3128, wantUser: "user", remote: true},
		{in: "socks5://proxy.local", wantType: "socks5", wantPort: 1080},
		{in: "SOCKS5H://proxy.local:9050", wantType: "socks5h", wantPort: 9050, remote: true},
		{in: "", wantErr: true},
		{in: "ftp://proxy.local", wantErr: true},
		{in: "http://:8080", wantErr: true},
		{in: "http://proxy.local:99999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParseProxyURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantPort, p.Port)
			assert.Equal(t, tt.wantUser, p.Username)
			assert.Equal(t, tt.remote, p.ResolveDNSViaProxy)
		})
	}
}

func TestConnectThroughHTTPProxy(t *testing.T) {
	backend := echoServer(t)
	proxyAddr, seen := connectProxy(t, backend, "200 Connection established")

	p, err := ParseProxyURL("http://user:secret@" + proxyAddr)
	require.NoError(t, err)

	// The host is never resolved locally, so a name that does not exist works.
	conn, err := New().Connect(context.Background(), Config{
		Host:  "backend.invalid",
		Port:  8081,
		Proxy: p,
	}, timing.NewTimer())
	require.NoError(t, err)
	defer conn.Close()

	got := <-seen
	assert.Equal(t, "backend.invalid:8081", got[0], "CONNECT target")
	assert.Equal(t, "Basic dXNlcjpzZWNyZXQ=", got[1], "Proxy-Authorization")
	assert.Equal(t, "echo: ping\n", roundTrip(t, conn))
}

func TestConnectHTTPProxyRefused(t *testing.T) {
	proxyAddr, _ := connectProxy(t, "", "403 Forbidden")
	p, _ := ParseProxyURL(proxyAddr)

	_, err := New().Connect(context.Background(), Config{Host: "backend.invalid", Port: 80, Proxy: p}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConnection, errors.GetErrorType(err))
	assert.Contains(t, err.Error(), "403", "error should name the proxy status")
}

func TestConnectThroughSOCKS5(t *testing.T) {
	backend := echoServer(t)
	proxyAddr, seen := socks5Proxy(t, backend)

	p, err := ParseProxyURL("socks5h://" + proxyAddr)
	require.NoError(t, err)

	conn, err := New().Connect(context.Background(), Config{
		Host:  "backend.invalid",
		Port:  8082,
		Proxy: p,
	}, timing.NewTimer())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "backend.invalid:8082", <-seen, "SOCKS destination")
	assert.Equal(t, "echo: ping\n", roundTrip(t, conn))
}
