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

import "testing"

func TestMasker_Mask(t *testing.T) {
	m := NewMasker()
	m.AddSecret("sk-live-abc123")
	m.AddSecret("hunter2")
	m.AddSecret("") // ignored

	got := m.Mask("calling with key sk-live-abc123 and password hunter2")
	want := "calling with key *** and password ***"
	if got != want {
		t.Errorf("Mask() = %q, want %q", got, want)
	}

	if got := m.Mask("nothing sensitive here"); got != "nothing sensitive here" {
		t.Errorf("Mask() altered clean string: %q", got)
	}
}

func TestMasker_IsSecretKey(t *testing.T) {
	m := NewMasker()

	tests := []struct {
		key  string
		want bool
	}{
		{"WEATHER_API_KEY", true},
		{"github_token", true},
		{"DB_PASSWORD", true},
		{"user_pwd", true},
		{"CLIENT_SECRET", true},
		{"BASE_URL", false},
		{"TIMEOUT", false},
	}

	for _, tt := range tests {
		if got := m.IsSecretKey(tt.key); got != tt.want {
			t.Errorf("IsSecretKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSanitizeAPIKey(t *testing.T) {
	if got := SanitizeAPIKey("sk-live-abc123"); got != "...c123" {
		t.Errorf("SanitizeAPIKey() = %q, want ...c123", got)
	}
	if got := SanitizeAPIKey("abcd"); got != "[REDACTED]" {
		t.Errorf("SanitizeAPIKey(short) = %q, want [REDACTED]", got)
	}
}
