package telemetry

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled patterns, shared by every scrub call
var (
	urlPattern  = regexp.MustCompile(`\b(?:https?|mqtt|mqtts|tcp|ssl|ws|wss|ftp|sftp)://\S+`)
	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage removes or anonymizes sensitive information from telemetry
// messages. URLs are replaced with stable anonymized forms so identical
// endpoints still group together in Sentry.
func ScrubMessage(message string) string {
	return urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
}

// AnonymizeURL converts a URL to an anonymized form while preserving
// debugging value: the scheme, host category and path structure survive,
// credentials, hostnames and concrete paths do not.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var normalizedParts []string

	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}

	host := parsedURL.Hostname()
	if host != "" {
		normalizedParts = append(normalizedParts, categorizeHost(host))
	}

	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		normalizedParts = append(normalizedParts, anonymizePath(parsedURL.Path))
	}

	normalized := strings.Join(normalizedParts, ":")
	hash := sha256.Sum256([]byte(normalized))

	return fmt.Sprintf("url-%x", hash[:12])
}

// SanitizeBrokerURL strips credentials and topic path from an MQTT broker
// URL, keeping host and port for log display.
func SanitizeBrokerURL(broker string) string {
	parsedURL, err := url.Parse(broker)
	if err != nil || parsedURL.Host == "" {
		return broker
	}

	parsedURL.User = nil
	parsedURL.Path = ""
	parsedURL.RawQuery = ""

	return parsedURL.String()
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}

	if isPrivateIP(host) {
		return "private-ip"
	}

	if isIPAddress(host) {
		return "public-ip"
	}

	// For domain names, preserve the TLD only
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}

	return "unknown-host"
}

// wellKnownSegments are path segments safe to preserve verbatim: they
// name public API structure, not user data.
var wellKnownSegments = map[string]bool{
	"api":          true,
	"v2":           true,
	"w":            true,
	"wiki":         true,
	"media":        true,
	"artifacts":    true,
	"observations": true,
	"species":      true,
	"diseases":     true,
}

// anonymizePath creates a structure-preserving but privacy-safe path form
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	segments := strings.Split(path, "/")
	anonymized := make([]string, 0, len(segments))

	for _, segment := range segments {
		if segment == "" {
			continue
		}

		switch {
		case wellKnownSegments[strings.ToLower(segment)]:
			anonymized = append(anonymized, strings.ToLower(segment))
		case isNumeric(segment):
			anonymized = append(anonymized, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			anonymized = append(anonymized, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}

	return strings.Join(anonymized, "/")
}

// isPrivateIP checks whether the host falls in a private address range
func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.",
		"172.20.", "172.21.", "172.22.", "172.23.", "172.24.",
		"172.25.", "172.26.", "172.27.", "172.28.", "172.29.",
		"172.30.", "172.31.", "192.168.",
		"fc00:", "fd00:", "fe80:",
	}

	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}

	return false
}

// isIPAddress reports whether the host looks like an IP address
func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return true
	}
	// IPv6 addresses contain colons
	return strings.Contains(host, ":")
}

// isNumeric reports whether the segment is all digits
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
