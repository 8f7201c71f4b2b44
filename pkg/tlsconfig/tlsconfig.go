// Package tlsconfig provides TLS version and ClientHello fingerprint helpers
// for probe connections.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
	"sort"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// SSL/TLS Protocol Versions
const (
	// TLS 1.0 (DEPRECATED - still useful against old front ends)
	VersionTLS10 uint16 = tls.VersionTLS10 // 0x0301

	// TLS 1.1 (DEPRECATED)
	VersionTLS11 uint16 = tls.VersionTLS11 // 0x0302

	// TLS 1.2 is the default pinned version for probe connections
	VersionTLS12 uint16 = tls.VersionTLS12 // 0x0303

	// TLS 1.3
	VersionTLS13 uint16 = tls.VersionTLS13 // 0x0304
)

// DefaultVersion is the protocol version probe connections pin to.
const DefaultVersion = VersionTLS12

// GetVersionName returns human-readable name for SSL/TLS version
func GetVersionName(version uint16) string {
	switch version {
	case VersionTLS10:
		return "TLS 1.0"
	case VersionTLS11:
		return "TLS 1.1"
	case VersionTLS12:
		return "TLS 1.2"
	case VersionTLS13:
		return "TLS 1.3"
	default:
		return "Unknown"
	}
}

// ParseVersion accepts "1.2", "tls1.2", "TLS 1.2" or "tls12" style names.
// An empty string yields DefaultVersion.
func ParseVersion(s string) (uint16, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "tls")
	norm = strings.TrimSpace(strings.TrimPrefix(norm, "v"))
	switch norm {
	case "":
		return DefaultVersion, nil
	case "1.0", "10":
		return VersionTLS10, nil
	case "1.1", "11":
		return VersionTLS11, nil
	case "1.2", "12":
		return VersionTLS12, nil
	case "1.3", "13":
		return VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", s)
}

// IsVersionDeprecated returns true if the version is deprecated/insecure
func IsVersionDeprecated(version uint16) bool {
	return version < VersionTLS12
}

// GetCipherSuiteName returns human-readable name for cipher suite
func GetCipherSuiteName(suite uint16) string {
	name := tls.CipherSuiteName(suite)
	if strings.HasPrefix(name, "0x") {
		return "Unknown"
	}
	return name
}

// Pin restricts config to exactly one protocol version.
func Pin(config *tls.Config, version uint16) {
	if version == 0 {
		version = DefaultVersion
	}
	config.MinVersion = version
	config.MaxVersion = version
}

// PinSpec restricts a browser ClientHello to exactly one protocol version.
// GREASE entries in supported_versions are kept so the hello still looks
// like the browser's.
func PinSpec(spec *utls.ClientHelloSpec, version uint16) {
	if version == 0 {
		version = DefaultVersion
	}
	spec.TLSVersMin = version
	spec.TLSVersMax = version
	for _, ext := range spec.Extensions {
		sv, ok := ext.(*utls.SupportedVersionsExtension)
		if !ok {
			continue
		}
		var versions []uint16
		for _, v := range sv.Versions {
			if isGREASE(v) {
				versions = append(versions, v)
			}
		}
		sv.Versions = append(versions, version)
	}
}

func isGREASE(v uint16) bool {
	return v>>8 == v&0xff && v&0xf == 0xa
}

// Browser ClientHello fingerprints a probe can present instead of the Go
// default. Keys are lower case. Every entry has a fixed spec so it can be
// pinned with PinSpec.
var fingerprints = map[string]utls.ClientHelloID{
	"chrome":      utls.HelloChrome_Auto,
	"chrome-120":  utls.HelloChrome_120,
	"chrome-106":  utls.HelloChrome_106_Shuffle,
	"firefox":     utls.HelloFirefox_Auto,
	"firefox-120": utls.HelloFirefox_120,
	"firefox-105": utls.HelloFirefox_105,
	"safari":      utls.HelloSafari_Auto,
	"ios":         utls.HelloIOS_Auto,
	"edge":        utls.HelloEdge_Auto,
}

// LookupFingerprint returns the ClientHello for a fingerprint name.
func LookupFingerprint(name string) (utls.ClientHelloID, bool) {
	id, ok := fingerprints[strings.ToLower(strings.TrimSpace(name))]
	return id, ok
}

// FingerprintNames lists the supported fingerprint names in sorted order.
func FingerprintNames() []string {
	names := make([]string, 0, len(fingerprints))
	for name := range fingerprints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
