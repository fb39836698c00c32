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
	"strings"
	"testing"
)

func TestValidateURL_BlocksPrivateTargets(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"loopback", "http://127.0.0.1/admin"},
		{"loopback with port", "http://127.0.0.1:8080/admin"},
		{"cloud metadata", "http://169.254.169.254/latest/meta-data/"},
		{"rfc1918 ten", "http://10.0.0.5/internal"},
		{"rfc1918 172", "http://172.16.1.1/internal"},
		{"rfc1918 192", "http://192.168.1.1/router"},
		{"ipv6 loopback", "http://[::1]/admin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url, Policy{})
			callErr, ok := err.(*Error)
			if !ok || callErr.Type != ErrorTypeSSRF {
				t.Fatalf("ValidateURL(%q) = %v, want ssrf_blocked", tt.url, err)
			}
		})
	}
}

func TestValidateURL_RedactsIPInMessage(t *testing.T) {
	err := ValidateURL("http://169.254.169.254/latest/meta-data/", Policy{})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "169.254.169.254") {
		t.Errorf("error message leaks the blocked IP: %v", err)
	}
}

func TestValidateURL_SchemeRestriction(t *testing.T) {
	for _, raw := range []string{"ftp://files.example.com/x", "file:///etc/passwd", "gopher://host/x"} {
		err := ValidateURL(raw, Policy{})
		callErr, ok := err.(*Error)
		if !ok || callErr.Type != ErrorTypeSSRF {
			t.Errorf("ValidateURL(%q) = %v, want ssrf_blocked", raw, err)
		}
	}
}

func TestValidateURL_AllowList(t *testing.T) {
	policy := Policy{AllowedHosts: []string{"api.example.com", "*.trusted.io"}}

	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://api.example.com/v1/users", false},
		{"https://API.EXAMPLE.COM/v1/users", false},
		{"https://svc.trusted.io/data", false},
		{"https://deep.svc.trusted.io/data", false},
		{"https://evil.example.com/v1/users", true},
		{"https://trusted.io.evil.com/data", true},
	}

	for _, tt := range tests {
		err := ValidateURL(tt.url, policy)
		if tt.blocked {
			callErr, ok := err.(*Error)
			if !ok || callErr.Type != ErrorTypeSSRF {
				t.Errorf("ValidateURL(%q) = %v, want ssrf_blocked", tt.url, err)
			}
		} else if err != nil {
			t.Errorf("ValidateURL(%q) = %v, want allowed", tt.url, err)
		}
	}
}

func TestValidateURL_PrivateHostException(t *testing.T) {
	policy := Policy{AllowPrivateHosts: []string{"127.0.0.1", "localhost"}}

	if err := ValidateURL("http://127.0.0.1:9999/dev", policy); err != nil {
		t.Errorf("ValidateURL with exception = %v, want allowed", err)
	}

	// The exception is per-host, not a blanket disable.
	err := ValidateURL("http://10.0.0.5/internal", policy)
	callErr, ok := err.(*Error)
	if !ok || callErr.Type != ErrorTypeSSRF {
		t.Errorf("ValidateURL(10.0.0.5) = %v, want ssrf_blocked", err)
	}
}

func TestValidatePathParameter(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"plain value", "octocat", false},
		{"value with dots", "v1.2.3", false},
		{"traversal", "../../etc/passwd", true},
		{"encoded traversal", "%2e%2e/secret", true},
		{"mixed encoded traversal", "..%2fsecret", true},
		{"null byte", "user\x00name", true},
		{"encoded null byte", "user%00name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathParameter("id", tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathParameter(%q) = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if tt.wantErr {
				callErr, ok := err.(*Error)
				if !ok || callErr.Type != ErrorTypePathInjection {
					t.Errorf("error type = %v, want path_injection", err)
				}
				if strings.Contains(err.Error(), tt.value) {
					t.Errorf("error echoes the rejected value: %v", err)
				}
			}
		})
	}
}

func TestValidateHeaderValue(t *testing.T) {
	if err := ValidateHeaderValue("X-Tag", "normal value"); err != nil {
		t.Errorf("ValidateHeaderValue() = %v, want nil", err)
	}
	if err := ValidateHeaderValue("X-Tag", "evil\r\nX-Injected: 1"); err == nil {
		t.Error("ValidateHeaderValue() accepted CRLF")
	}
}
