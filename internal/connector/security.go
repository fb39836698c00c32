// Copyright 2025 Shan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Policy is the outbound request policy applied before any network I/O.
type Policy struct {
	// AllowedHosts, when non-empty, is the only set of hosts the call
	// may reach. Supports exact names and "*.example.com" wildcards.
	AllowedHosts []string

	// AllowPrivateHosts lists loopback/private/link-local hosts that
	// are explicitly permitted despite the default block. Intended for
	// local development targets.
	AllowPrivateHosts []string
}

// ValidateURL checks whether a URL is safe to call. Private ranges,
// loopback addresses, link-local ranges, and the cloud metadata
// endpoint are blocked unless the host appears in AllowPrivateHosts.
func ValidateURL(rawURL string, policy Policy) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return NewSSRFError(fmt.Sprintf("scheme %q not permitted", parsedURL.Scheme))
	}

	host := parsedURL.Hostname()
	if host == "" {
		return fmt.Errorf("URL missing host: %s", redactIPAddresses(rawURL))
	}

	// An explicit allow-list is authoritative: matching hosts skip IP
	// validation, everything else is rejected.
	if len(policy.AllowedHosts) > 0 {
		if !hostMatches(host, policy.AllowedHosts) {
			return NewSSRFError(host)
		}
		return nil
	}

	// Explicitly allowed private hosts skip IP validation.
	if hostMatches(host, policy.AllowPrivateHosts) {
		return nil
	}

	return validateHostIP(host)
}

// hostMatches checks a host against a pattern list. Supports exact
// matches and wildcard patterns (*.example.com).
func hostMatches(host string, patterns []string) bool {
	lowerHost := strings.ToLower(host)

	for _, pattern := range patterns {
		pattern = strings.ToLower(pattern)

		if pattern == lowerHost {
			return true
		}

		if strings.HasPrefix(pattern, "*.") {
			suffix := pattern[1:]
			if strings.HasSuffix(lowerHost, suffix) {
				return true
			}
		}
	}

	return false
}

// validateHostIP resolves the hostname and rejects private, loopback,
// and link-local destinations. Resolution happens here so a public name
// pointing at an internal address is still caught.
func validateHostIP(host string) error {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return NewConnectionError(fmt.Errorf("failed to resolve %s: %w", host, err))
		}
		if len(ips) == 0 {
			return NewConnectionError(fmt.Errorf("no IP addresses found for %s", host))
		}
		for _, resolved := range ips {
			if isBlockedIP(resolved) {
				return NewSSRFError(fmt.Sprintf("%s (resolved to private/loopback IP %s)", host, resolved))
			}
		}
		return nil
	}

	if isBlockedIP(ip) {
		return NewSSRFError(fmt.Sprintf("%s (private/loopback IP)", host))
	}
	return nil
}

// isBlockedIP reports whether an IP falls in a default-blocked range.
func isBlockedIP(ip net.IP) bool {
	return isPrivateIP(ip) || isLoopbackIP(ip) || isLinkLocalIP(ip)
}

// isPrivateIP checks if an IP is in RFC 1918 private ranges (or the
// IPv6 unique-local range).
func isPrivateIP(ip net.IP) bool {
	privateRanges := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
	}

	for _, cidr := range privateRanges {
		_, network, _ := net.ParseCIDR(cidr)
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// isLoopbackIP checks if an IP is a loopback address.
func isLoopbackIP(ip net.IP) bool {
	loopbackRanges := []string{
		"127.0.0.0/8",
		"::1/128",
	}

	for _, cidr := range loopbackRanges {
		_, network, _ := net.ParseCIDR(cidr)
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// isLinkLocalIP checks if an IP is a link-local address. Covers the
// cloud metadata endpoint 169.254.169.254.
func isLinkLocalIP(ip net.IP) bool {
	linkLocalRanges := []string{
		"169.254.0.0/16",
		"fe80::/10",
	}

	for _, cidr := range linkLocalRanges {
		_, network, _ := net.ParseCIDR(cidr)
		if network.Contains(ip) {
			return true
		}
	}

	return false
}

// ValidatePathParameter rejects path parameter values containing path
// traversal sequences or null bytes.
func ValidatePathParameter(name, value string) error {
	dangerous := []string{
		"../",
		"..\\",
		"%2e%2e/",
		"%2e%2e\\",
		"%2e%2e%2f",
		"%2e%2e%5c",
		"..%2f",
		"..%5c",
	}

	lowerValue := strings.ToLower(value)
	for _, pattern := range dangerous {
		if strings.Contains(lowerValue, pattern) {
			return NewPathInjectionError(name)
		}
	}

	if strings.Contains(value, "\x00") || strings.Contains(value, "%00") {
		return NewPathInjectionError(name)
	}

	return nil
}

// ValidateHeaderValue rejects header parameter values that could split
// the request with CR/LF injection.
func ValidateHeaderValue(name, value string) error {
	if strings.ContainsAny(value, "\r\n") {
		return NewValidationError(name, "header value must not contain CR or LF")
	}
	return nil
}
