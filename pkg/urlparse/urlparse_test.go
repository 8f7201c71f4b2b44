package urlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/go-desync/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want URL
	}{
		{
			name: "https with path",
			raw:  "https://a.b/c",
			want: URL{Scheme: "https", Host: "a.b", Port: 443, Path: "/c", Secure: true},
		},
		{
			name: "http no path",
			raw:  "http://a.b",
			want: URL{Scheme: "http", Host: "a.b", Port: 80, Path: "/"},
		},
		{
			name: "explicit port overrides default",
			raw:  "https://a.b:8443/x",
			want: URL{Scheme: "https", Host: "a.b", Port: 8443, Path: "/x", Secure: true},
		},
		{
			name: "scheme is case insensitive",
			raw:  "HTTPS://Example.COM",
			want: URL{Scheme: "https", Host: "example.com", Port: 443, Path: "/", Secure: true},
		},
		{
			name: "query kept apart from path",
			raw:  "http://a.b/search?q=1",
			want: URL{Scheme: "http", Host: "a.b", Port: 80, Path: "/search", Query: "q=1"},
		},
		{
			name: "ip literal",
			raw:  "http://127.0.0.1:8080",
			want: URL{Scheme: "http", Host: "127.0.0.1", Port: 8080, Path: "/"},
		},
		{
			name: "idn host",
			raw:  "https://bücher.example/",
			want: URL{Scheme: "https", Host: "xn--bcher-kva.example", Port: 443, Path: "/", Secure: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, raw := range []string{
		"",
		"example.com/path",
		"http://",
		"http://a.b:0",
		"http://a.b:70000",
		"http://a.b:port",
		"http://[::1",
	} {
		t.Run(raw, func(t *testing.T) {
			_, err := Parse(raw)
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeURL, errors.GetErrorType(err))
		})
	}
}

func TestHostHeader(t *testing.T) {
	u, err := Parse("http://a.b:8080/x")
	require.NoError(t, err)
	assert.Equal(t, "a.b:8080", u.HostHeader())

	u, err = Parse("https://a.b/")
	require.NoError(t, err)
	assert.Equal(t, "a.b", u.HostHeader())

	u, err = Parse("http://[::1]:81/")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:81", u.HostHeader())
	assert.Equal(t, "[::1]:81", u.Address())
}

func TestRequestURIAndString(t *testing.T) {
	u, err := Parse("http://a.b:81/p?x=1")
	require.NoError(t, err)
	assert.Equal(t, "/p?x=1", u.RequestURI())
	assert.Equal(t, "http://a.b:81/p?x=1", u.String())
}
