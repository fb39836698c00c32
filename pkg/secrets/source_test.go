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

import (
	"errors"
	"testing"
)

func TestExpand(t *testing.T) {
	source := StaticSource{
		"API_KEY":  "sk-1234",
		"USERNAME": "alice",
	}

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"no reference", "https://api.example.com", "https://api.example.com", false},
		{"whole value", "${API_KEY}", "sk-1234", false},
		{"embedded", "Bearer ${API_KEY}", "Bearer sk-1234", false},
		{"multiple references", "${USERNAME}:${API_KEY}", "alice:sk-1234", false},
		{"unclosed reference", "${API_KEY", "", true},
		{"invalid name", "${1BAD}", "", true},
		{"empty name", "${}", "", true},
		{"missing variable", "${NOPE}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.value, source)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expand(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestExpand_MissingErrorNamesVariable(t *testing.T) {
	_, err := Expand("${ABSENT_KEY}", StaticSource{})
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("error = %v, want MissingError", err)
	}
	if missing.Name != "ABSENT_KEY" {
		t.Errorf("Name = %q, want ABSENT_KEY", missing.Name)
	}
}

func TestExpand_ResolvedValueNotRescanned(t *testing.T) {
	source := StaticSource{
		"API_KEY": "literal-${fragment",
		"TOKEN":   "${OTHER}",
		"OTHER":   "should-not-appear",
	}

	got, err := Expand("${API_KEY}", source)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got != "literal-${fragment" {
		t.Errorf("Expand() = %q, want value kept verbatim", got)
	}

	got, err = Expand("${TOKEN}", source)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got != "${OTHER}" {
		t.Errorf("Expand() = %q, want nested reference left alone", got)
	}
}

func TestChainSource_Precedence(t *testing.T) {
	chain := ChainSource{
		StaticSource{"SHARED": "first"},
		StaticSource{"SHARED": "second", "ONLY_SECOND": "value"},
	}

	if got, ok := chain.Lookup("SHARED"); !ok || got != "first" {
		t.Errorf("Lookup(SHARED) = %q, %v, want first from the first source", got, ok)
	}
	if got, ok := chain.Lookup("ONLY_SECOND"); !ok || got != "value" {
		t.Errorf("Lookup(ONLY_SECOND) = %q, %v", got, ok)
	}
	if _, ok := chain.Lookup("ABSENT"); ok {
		t.Error("Lookup(ABSENT) reported found")
	}
}

func TestEnvSource(t *testing.T) {
	t.Setenv("APICONNECT_TEST_SECRET", "from-env")

	if got, ok := (EnvSource{}).Lookup("APICONNECT_TEST_SECRET"); !ok || got != "from-env" {
		t.Errorf("Lookup() = %q, %v", got, ok)
	}
}

func TestHasRef(t *testing.T) {
	if HasRef("plain value") {
		t.Error("HasRef(plain) = true")
	}
	if !HasRef("prefix ${VAR}") {
		t.Error("HasRef(${VAR}) = false")
	}
}
