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

package transform

import (
	"sort"
	"strings"
)

// Apply runs the pipeline against decoded response data.
//
// A JSON array is treated as the record sequence directly. A single
// object is treated as a one-element sequence and unwrapped afterward
// unless the pipeline contains a sequence-producing operation (filter
// or limit). Scalars only pass through the empty pipeline.
func Apply(data any, spec *Spec) (any, error) {
	if spec.Empty() {
		return data, nil
	}

	var records []any
	wrapped := false

	switch v := data.(type) {
	case []any:
		records = v
	case map[string]any:
		records = []any{v}
		wrapped = true
	default:
		return nil, &Error{
			Kind:   ErrUnsupportedInput,
			Reason: "transform pipeline requires an object or array response",
		}
	}

	for _, op := range spec.Ops {
		switch {
		case op.Filter != nil:
			records = applyFilter(records, op.Filter)
		case op.Sort != nil:
			records = applySort(records, op.Sort)
		case op.Select != nil:
			records = applySelect(records, op.Select)
		case op.Limit != nil:
			records = applyLimit(records, op.Limit)
		}
	}

	if wrapped && !spec.producesSequence() {
		if len(records) == 1 {
			return records[0], nil
		}
	}
	if records == nil {
		records = []any{}
	}
	return records, nil
}

// applyFilter keeps records whose field satisfies the condition.
// Records missing the field, or whose value cannot be compared against
// the condition value, are excluded rather than failing the pipeline.
func applyFilter(records []any, f *FilterOp) []any {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		value, ok := lookupField(rec, f.Field)
		if !ok {
			continue
		}
		if matchFilter(value, f.Operator, f.Value) {
			out = append(out, rec)
		}
	}
	return out
}

// matchFilter evaluates one comparison. A false return covers both
// "compared false" and "not comparable".
func matchFilter(value any, operator string, target any) bool {
	switch operator {
	case OpEq:
		eq, ok := equalValues(value, target)
		return ok && eq
	case OpNeq:
		eq, ok := equalValues(value, target)
		return ok && !eq
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareValues(value, target)
		if !ok {
			return false
		}
		switch operator {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpContains:
		return containsValue(value, target)
	default:
		return false
	}
}

// equalValues compares two values for equality, treating all numeric
// types as one domain. The second return reports comparability.
func equalValues(a, b any) (bool, bool) {
	if na, aok := toFloat(a); aok {
		nb, bok := toFloat(b)
		if !bok {
			return false, false
		}
		return na == nb, true
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		if !ok {
			return false, false
		}
		return va == vb, true
	case bool:
		vb, ok := b.(bool)
		if !ok {
			return false, false
		}
		return va == vb, true
	case nil:
		return b == nil, true
	default:
		return false, false
	}
}

// compareValues orders two values. Only numbers and strings are
// ordered; everything else is not comparable.
func compareValues(a, b any) (int, bool) {
	if na, aok := toFloat(a); aok {
		nb, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case na < nb:
			return -1, true
		case na > nb:
			return 1, true
		default:
			return 0, true
		}
	}
	if sa, aok := a.(string); aok {
		sb, bok := b.(string)
		if !bok {
			return 0, false
		}
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

// containsValue implements the contains operator: substring match for
// strings, element match for arrays.
func containsValue(value, target any) bool {
	switch v := value.(type) {
	case string:
		t, ok := target.(string)
		return ok && strings.Contains(v, t)
	case []any:
		for _, item := range v {
			if eq, ok := equalValues(item, target); ok && eq {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// toFloat widens any numeric value to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// applySort stably sorts records by field. Records missing the field
// sort after all records that have it, keeping their original relative
// order. Values that cannot be ordered are treated as missing.
func applySort(records []any, s *SortOp) []any {
	out := make([]any, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		vi, iok := sortableField(out[i], s.Field)
		vj, jok := sortableField(out[j], s.Field)
		if !iok {
			return false
		}
		if !jok {
			return true
		}
		cmp, ok := compareValues(vi, vj)
		if !ok {
			return false
		}
		if s.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

// sortableField extracts a field value that participates in ordering.
func sortableField(rec any, field string) (any, bool) {
	value, ok := lookupField(rec, field)
	if !ok {
		return nil, false
	}
	if _, isNum := toFloat(value); isNum {
		return value, true
	}
	if _, isStr := value.(string); isStr {
		return value, true
	}
	return nil, false
}

// applySelect projects each record to the listed dotted paths, keeping
// the nested structure of each path. Paths absent from a record are
// dropped from its projection. Non-object records project to empty
// objects.
func applySelect(records []any, s *SelectOp) []any {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		projected := map[string]any{}
		for _, field := range s.Fields {
			value, ok := lookupField(rec, field)
			if !ok {
				continue
			}
			setPath(projected, field, value)
		}
		out = append(out, projected)
	}
	return out
}

// applyLimit truncates the sequence; a non-positive count empties it.
func applyLimit(records []any, l *LimitOp) []any {
	if l.Count <= 0 {
		return []any{}
	}
	if len(records) <= l.Count {
		return records
	}
	return records[:l.Count]
}

// lookupField resolves a dotted path against a record. Each segment
// must traverse an object; anything else is a miss.
func lookupField(rec any, path string) (any, bool) {
	current := rec
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath writes a value into a nested object along a dotted path,
// creating intermediate objects as needed.
func setPath(obj map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	for _, segment := range segments[:len(segments)-1] {
		next, ok := obj[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[segment] = next
		}
		obj = next
	}
	obj[segments[len(segments)-1]] = value
}
