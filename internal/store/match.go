package store

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

func compareEq(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareOrdered(op Op, a, b any) (bool, error) {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return false, fmt.Errorf("cannot compare time.Time to %T", b)
		}
		switch op {
		case OpGt:
			return at.After(bt), nil
		case OpGte:
			return at.After(bt) || at.Equal(bt), nil
		case OpLt:
			return at.Before(bt), nil
		case OpLte:
			return at.Before(bt) || at.Equal(bt), nil
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string to %T", b)
		}
		switch op {
		case OpGt:
			return as > bs, nil
		case OpGte:
			return as >= bs, nil
		case OpLt:
			return as < bs, nil
		case OpLte:
			return as <= bs, nil
		}
	}
	af, ok1 := toFloat(a)
	bf, ok2 := toFloat(b)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("cannot order-compare %T and %T", a, b)
	}
	switch op {
	case OpGt:
		return af > bf, nil
	case OpGte:
		return af >= bf, nil
	case OpLt:
		return af < bf, nil
	case OpLte:
		return af <= bf, nil
	}
	return false, fmt.Errorf("unsupported ordered operator %q", op)
}

func likeMatch(s, pattern string) bool {
	// SQL LIKE subset: % as wildcard, case-insensitive, no escaping.
	parts := strings.Split(pattern, "%")
	s = strings.ToLower(s)
	for i := range parts {
		parts[i] = strings.ToLower(parts[i])
	}
	if len(parts) == 1 {
		return s == parts[0]
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	rest := s[len(parts[0]):]
	for _, p := range parts[1 : len(parts)-1] {
		idx := strings.Index(rest, p)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(p):]
	}
	return strings.HasSuffix(rest, parts[len(parts)-1])
}

func inSlice(v, set any) bool {
	sv := reflect.ValueOf(set)
	if sv.Kind() != reflect.Slice && sv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < sv.Len(); i++ {
		if compareEq(v, sv.Index(i).Interface()) {
			return true
		}
	}
	return false
}
