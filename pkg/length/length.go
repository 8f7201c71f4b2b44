// Package length computes how many bytes a piece of request text occupies on
// the wire once bare line feeds have been expanded to CRLF.
//
// Desync probes only work when the advertised Content-Length or chunk size
// matches exactly what the peer counts, so every size written into a probe
// goes through Count.
package length

import (
	"strconv"
	"strings"
)

// Count returns the transmission length of s in bytes.
//
// A '\r' counts one byte. A '\n' counts one byte, plus one more when it is
// not immediately preceded by '\r', since it will be sent as "\r\n". Every
// other byte counts one.
func Count(s string) int {
	n := 0
	pendingCR := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r':
			n++
			pendingCR = true
		case '\n':
			n++
			if !pendingCR {
				n++
			}
			pendingCR = false
		default:
			n++
			pendingCR = false
		}
	}
	return n
}

// NormalizeCRLF rewrites every bare "\n" in s as "\r\n". Existing "\r\n"
// pairs are left alone, so len(NormalizeCRLF(s)) == Count(s).
func NormalizeCRLF(s string) string {
	if !strings.Contains(s, "\n") {
		return s
	}
	var b strings.Builder
	b.Grow(Count(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' && (i == 0 || s[i-1] != '\r') {
			b.WriteByte('\r')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Hex renders n as a chunk-size token: lowercase hexadecimal without prefix.
func Hex(n int) string {
	return strconv.FormatInt(int64(n), 16)
}
