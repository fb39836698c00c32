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

package secrets

import "strings"

// Masker detects and masks sensitive values in strings destined for
// logs or tool output. It tracks resolved secret values so that any
// accidental echo of a credential is replaced before rendering.
type Masker struct {
	// patterns are key suffixes that indicate a secret (e.g., _TOKEN)
	patterns []string

	// secrets is the set of known secret values to mask
	secrets map[string]bool
}

// NewMasker creates a masker with the default key patterns.
func NewMasker() *Masker {
	return &Masker{
		patterns: []string{
			"_TOKEN",
			"_SECRET",
			"_KEY",
			"_PASSWORD",
			"_PASS",
			"_PWD",
		},
		secrets: make(map[string]bool),
	}
}

// AddSecret registers a value to be masked.
func (m *Masker) AddSecret(value string) {
	if value != "" {
		m.secrets[value] = true
	}
}

// IsSecretKey reports whether a variable name looks like it holds a
// credential.
func (m *Masker) IsSecretKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range m.patterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// Mask replaces all known secret values in s with "***".
func (m *Masker) Mask(s string) string {
	result := s
	for secret := range m.secrets {
		if strings.Contains(result, secret) {
			result = strings.ReplaceAll(result, secret, "***")
		}
	}
	return result
}

// SanitizeAPIKey masks an API key, showing only the last 4 characters.
// Returns "[REDACTED]" if the key is too short to truncate safely.
func SanitizeAPIKey(key string) string {
	if len(key) <= 4 {
		return "[REDACTED]"
	}
	return "..." + key[len(key)-4:]
}

// Redacted is the placeholder used wherever a secret value would
// otherwise appear.
const Redacted = "[REDACTED]"
