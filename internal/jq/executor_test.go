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

package jq

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		data       any
		want       any
		wantErr    bool
	}{
		{
			name:       "empty expression returns data as-is",
			expression: "",
			data:       map[string]any{"foo": "bar"},
			want:       map[string]any{"foo": "bar"},
		},
		{
			name:       "simple field extraction",
			expression: ".foo",
			data:       map[string]any{"foo": "bar"},
			want:       "bar",
		},
		{
			name:       "nested field extraction",
			expression: ".data.items",
			data: map[string]any{
				"data": map[string]any{"items": []any{"a", "b"}},
			},
			want: []any{"a", "b"},
		},
		{
			name:       "array map",
			expression: "map(.x)",
			data:       []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
			want:       []any{1, 2},
		},
		{
			name:       "multiple outputs collected into array",
			expression: ".[] | .x",
			data:       []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
			want:       []any{1, 2},
		},
		{
			name:       "missing field yields nil",
			expression: ".missing",
			data:       map[string]any{"foo": "bar"},
			want:       nil,
		},
		{
			name:       "invalid expression",
			expression: ".[",
			data:       map[string]any{"foo": "bar"},
			wantErr:    true,
		},
		{
			name:       "runtime error surfaces",
			expression: ".foo | .bar",
			data:       map[string]any{"foo": "not an object"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(DefaultTimeout, DefaultMaxInputSize)
			got, err := executor.Execute(context.Background(), tt.expression, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Execute() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{
			name:       "empty expression is valid",
			expression: "",
		},
		{
			name:       "simple expression is valid",
			expression: ".foo",
		},
		{
			name:       "pipeline is valid",
			expression: ".data | map(.id)",
		},
		{
			name:       "invalid expression",
			expression: ".[",
			wantErr:    true,
		},
		{
			name:       "undefined function",
			expression: "frobnicate(.)",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.expression); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutor_Timeout(t *testing.T) {
	executor := NewExecutor(100*time.Millisecond, DefaultMaxInputSize)

	_, err := executor.Execute(context.Background(), "while(true; . + 1)", 0)
	if err == nil {
		t.Error("Execute() expected timeout error, got nil")
	}
}

func TestExecutor_InputSizeLimit(t *testing.T) {
	executor := NewExecutor(DefaultTimeout, 16)

	_, err := executor.Execute(context.Background(), ".", map[string]any{"key": "a long enough value"})
	if err == nil {
		t.Error("Execute() expected input size error, got nil")
	}
}
