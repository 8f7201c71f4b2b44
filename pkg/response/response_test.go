package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/payload"
)

func TestParseFixedLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 5\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\n\r\nhelloEXTRA"
	resp, err := Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "HTTP/1.1 200 OK", resp.StatusLine)
	assert.Equal(t, "HTTP/1.1", resp.HTTPVersion)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "text/html", resp.Header("content-type"))
	assert.Equal(t, []string{"a=1", "b=2"}, resp.Values("Set-Cookie"))
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, "helloEXTRA", string(resp.RawBody))
	assert.False(t, resp.Truncated)
}

func TestParseChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6;x=y\r\n world\r\n0\r\n\r\n"
	resp, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.True(t, resp.Chunked)
	assert.Equal(t, "hello world", string(resp.Body))
	assert.False(t, resp.Truncated)
}

func TestParseTruncated(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		body string
	}{
		{"short fixed body", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nabc", "abc"},
		{"short chunk", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\na\r\nabc", "abc"},
		{"missing zero chunk", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.True(t, resp.Truncated)
			assert.Equal(t, tt.body, string(resp.Body))
		})
	}
}

func TestParseHeadersCutShort(t *testing.T) {
	resp, err := Parse([]byte("HTTP/1.1 502 Bad Gateway\r\nServer: edge\r\nX-Partial"))
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.Equal(t, 502, resp.StatusCode)
	assert.Equal(t, []payload.Header{
		{Name: "Server", Value: "edge"},
		{Name: "X-Partial", Bare: true},
	}, resp.Headers)
}

func TestParseFoldedHeader(t *testing.T) {
	resp, err := Parse([]byte("HTTP/1.1 200 OK\r\nX-Long: a\r\n  b\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "a b", resp.Header("X-Long"))
}

func TestParseErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":        "",
		"sentinel":     constants.NoResponseText,
		"not http":     "SSH-2.0-OpenSSH_9.6\r\n",
		"bad code":     "HTTP/1.1 abc OK\r\n\r\n",
		"no code part": "HTTP/1.1\r\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
			assert.Equal(t, errors.ErrorTypeProtocol, errors.GetErrorType(err))
		})
	}
}
