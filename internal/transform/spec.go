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

// Package transform applies declarative filter/sort/select/limit
// pipelines to structured records decoded from API responses. The
// pipeline is a pure function of its input; identical input and spec
// always produce identical output.
package transform

import (
	"fmt"
	"strings"
)

// Filter comparison operators.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
)

var validOperators = map[string]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpContains: true,
}

// Op is one pipeline operation. Exactly one of the embedded op fields
// is set.
type Op struct {
	Filter *FilterOp
	Sort   *SortOp
	Select *SelectOp
	Limit  *LimitOp
}

// FilterOp keeps records whose field compares true against Value.
type FilterOp struct {
	Field    string
	Operator string
	Value    any
}

// SortOp stably sorts records by field.
type SortOp struct {
	Field      string
	Descending bool
}

// SelectOp projects records to the listed dotted field paths.
type SelectOp struct {
	Fields []string
}

// LimitOp truncates to the first Count records.
type LimitOp struct {
	Count int
}

// Spec is an ordered transform pipeline.
type Spec struct {
	Ops []Op
}

// Empty reports whether the pipeline has no operations.
func (s *Spec) Empty() bool {
	return s == nil || len(s.Ops) == 0
}

// producesSequence reports whether the pipeline contains an operation
// whose output is inherently a record sequence. Filter and limit are;
// sort and select preserve single-record shape.
func (s *Spec) producesSequence() bool {
	if s == nil {
		return false
	}
	for _, op := range s.Ops {
		if op.Filter != nil || op.Limit != nil {
			return true
		}
	}
	return false
}

// ParseSpec decodes a caller-supplied pipeline declaration. Two shapes
// are accepted:
//
//   - a single object whose keys are operation names, applied in the
//     canonical order filter, sort, select, limit:
//     {"filter": {...}, "sort": {...}, "select": [...], "limit": 10}
//
//   - an ordered list of single-operation objects when the caller needs
//     explicit ordering:
//     [{"filter": {...}}, {"sort": {...}}, {"limit": 10}]
//
// A nil declaration is the empty pipeline.
func ParseSpec(raw any) (*Spec, error) {
	switch v := raw.(type) {
	case nil:
		return &Spec{}, nil
	case map[string]any:
		return parseObjectSpec(v)
	case []any:
		return parseListSpec(v)
	default:
		return nil, newInvalidSpec("transform spec must be an object or a list, got %T", raw)
	}
}

// parseObjectSpec decodes the single-object shape. Keys apply in
// canonical order regardless of declaration order, since JSON objects
// carry none.
func parseObjectSpec(obj map[string]any) (*Spec, error) {
	for key := range obj {
		switch key {
		case "filter", "sort", "select", "limit":
		default:
			return nil, newInvalidSpec("unknown transform operation %q", key)
		}
	}

	spec := &Spec{}

	if raw, ok := obj["filter"]; ok {
		filters, err := parseFilters(raw)
		if err != nil {
			return nil, err
		}
		for i := range filters {
			spec.Ops = append(spec.Ops, Op{Filter: &filters[i]})
		}
	}
	if raw, ok := obj["sort"]; ok {
		sortOp, err := parseSort(raw)
		if err != nil {
			return nil, err
		}
		spec.Ops = append(spec.Ops, Op{Sort: sortOp})
	}
	if raw, ok := obj["select"]; ok {
		selectOp, err := parseSelect(raw)
		if err != nil {
			return nil, err
		}
		spec.Ops = append(spec.Ops, Op{Select: selectOp})
	}
	if raw, ok := obj["limit"]; ok {
		limitOp, err := parseLimit(raw)
		if err != nil {
			return nil, err
		}
		spec.Ops = append(spec.Ops, Op{Limit: limitOp})
	}

	return spec, nil
}

// parseListSpec decodes the ordered-list shape.
func parseListSpec(list []any) (*Spec, error) {
	spec := &Spec{}
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok || len(obj) != 1 {
			return nil, newInvalidSpec("pipeline entry %d must be an object with exactly one operation", i)
		}

		for key, raw := range obj {
			switch key {
			case "filter":
				filters, err := parseFilters(raw)
				if err != nil {
					return nil, err
				}
				for j := range filters {
					spec.Ops = append(spec.Ops, Op{Filter: &filters[j]})
				}
			case "sort":
				sortOp, err := parseSort(raw)
				if err != nil {
					return nil, err
				}
				spec.Ops = append(spec.Ops, Op{Sort: sortOp})
			case "select":
				selectOp, err := parseSelect(raw)
				if err != nil {
					return nil, err
				}
				spec.Ops = append(spec.Ops, Op{Select: selectOp})
			case "limit":
				limitOp, err := parseLimit(raw)
				if err != nil {
					return nil, err
				}
				spec.Ops = append(spec.Ops, Op{Limit: limitOp})
			default:
				return nil, newInvalidSpec("unknown transform operation %q", key)
			}
		}
	}
	return spec, nil
}

// parseFilters decodes one filter condition or a list of them.
func parseFilters(raw any) ([]FilterOp, error) {
	switch v := raw.(type) {
	case map[string]any:
		f, err := parseOneFilter(v)
		if err != nil {
			return nil, err
		}
		return []FilterOp{*f}, nil
	case []any:
		var filters []FilterOp
		for _, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, newInvalidSpec("filter condition must be an object, got %T", item)
			}
			f, err := parseOneFilter(obj)
			if err != nil {
				return nil, err
			}
			filters = append(filters, *f)
		}
		return filters, nil
	default:
		return nil, newInvalidSpec("filter must be an object or a list of objects, got %T", raw)
	}
}

func parseOneFilter(obj map[string]any) (*FilterOp, error) {
	field, ok := obj["field"].(string)
	if !ok || field == "" {
		return nil, newInvalidSpec("filter requires a field name")
	}

	operator := OpEq
	if raw, ok := obj["operator"]; ok {
		operator, ok = raw.(string)
		if !ok {
			return nil, newInvalidSpec("filter operator must be a string, got %T", raw)
		}
	}
	if !validOperators[operator] {
		return nil, newInvalidSpec("unknown filter operator %q", operator)
	}

	value, ok := obj["value"]
	if !ok {
		return nil, newInvalidSpec("filter on %q requires a comparison value", field)
	}

	for key := range obj {
		switch key {
		case "field", "operator", "value":
		default:
			return nil, newInvalidSpec("unknown filter key %q", key)
		}
	}

	return &FilterOp{Field: field, Operator: operator, Value: value}, nil
}

// parseSort decodes a sort declaration: either a field name or an
// object {"field": ..., "direction": "asc"|"desc"}.
func parseSort(raw any) (*SortOp, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, newInvalidSpec("sort requires a field name")
		}
		return &SortOp{Field: v}, nil
	case map[string]any:
		field, ok := v["field"].(string)
		if !ok || field == "" {
			return nil, newInvalidSpec("sort requires a field name")
		}
		op := &SortOp{Field: field}
		if raw, ok := v["direction"]; ok {
			direction, ok := raw.(string)
			if !ok {
				return nil, newInvalidSpec("sort direction must be a string, got %T", raw)
			}
			switch strings.ToLower(direction) {
			case "asc", "":
			case "desc":
				op.Descending = true
			default:
				return nil, newInvalidSpec("sort direction must be asc or desc, got %q", direction)
			}
		}
		for key := range v {
			switch key {
			case "field", "direction":
			default:
				return nil, newInvalidSpec("unknown sort key %q", key)
			}
		}
		return op, nil
	default:
		return nil, newInvalidSpec("sort must be a field name or an object, got %T", raw)
	}
}

// parseSelect decodes a field list: a single path or a list of paths.
func parseSelect(raw any) (*SelectOp, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil, newInvalidSpec("select requires at least one field")
		}
		return &SelectOp{Fields: []string{v}}, nil
	case []any:
		if len(v) == 0 {
			return nil, newInvalidSpec("select requires at least one field")
		}
		fields := make([]string, 0, len(v))
		for _, item := range v {
			field, ok := item.(string)
			if !ok || field == "" {
				return nil, newInvalidSpec("select fields must be non-empty strings, got %v", item)
			}
			fields = append(fields, field)
		}
		return &SelectOp{Fields: fields}, nil
	default:
		return nil, newInvalidSpec("select must be a field or a list of fields, got %T", raw)
	}
}

// parseLimit decodes a record count. JSON numbers arrive as float64;
// non-integral counts are rejected.
func parseLimit(raw any) (*LimitOp, error) {
	switch v := raw.(type) {
	case int:
		return &LimitOp{Count: v}, nil
	case float64:
		if v != float64(int(v)) {
			return nil, newInvalidSpec("limit must be an integer, got %v", v)
		}
		return &LimitOp{Count: int(v)}, nil
	default:
		return nil, newInvalidSpec("limit must be a number, got %T", raw)
	}
}

// String renders the pipeline for logs and stored operation records.
func (s *Spec) String() string {
	if s.Empty() {
		return "identity"
	}
	parts := make([]string, 0, len(s.Ops))
	for _, op := range s.Ops {
		switch {
		case op.Filter != nil:
			parts = append(parts, fmt.Sprintf("filter(%s %s %v)", op.Filter.Field, op.Filter.Operator, op.Filter.Value))
		case op.Sort != nil:
			dir := "asc"
			if op.Sort.Descending {
				dir = "desc"
			}
			parts = append(parts, fmt.Sprintf("sort(%s %s)", op.Sort.Field, dir))
		case op.Select != nil:
			parts = append(parts, fmt.Sprintf("select(%s)", strings.Join(op.Select.Fields, ",")))
		case op.Limit != nil:
			parts = append(parts, fmt.Sprintf("limit(%d)", op.Limit.Count))
		}
	}
	return strings.Join(parts, " | ")
}
