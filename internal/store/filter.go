package store

import "fmt"

// Op is a comparison operator usable in a Condition.
type Op string

const (
	OpEq        Op = "eq"
	OpNeq       Op = "neq"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpLike      Op = "like"
	OpIn        Op = "in"
	OpBetween   Op = "between"
	OpIsNull    Op = "is_null"
	OpIsNotNull Op = "is_not_null"
	OpHasKey    Op = "has_key"    // jsonb ? key
	OpContains  Op = "contains"   // jsonb @>
)

// Condition is a single field/operator/value predicate.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is an ordered AND-conjunction of Conditions plus pagination and
// ordering, built fluently and translated to a backend query by the
// store implementation.
type Filter struct {
	Conditions []Condition
	OrderBy    string
	Desc       bool
	Limit      int
	Offset     int
}

// New returns an empty Filter.
func New() *Filter {
	return &Filter{}
}

func (f *Filter) add(field string, op Op, value any) *Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: op, Value: value})
	return f
}

func (f *Filter) Eq(field string, value any) *Filter        { return f.add(field, OpEq, value) }
func (f *Filter) Neq(field string, value any) *Filter       { return f.add(field, OpNeq, value) }
func (f *Filter) Gt(field string, value any) *Filter        { return f.add(field, OpGt, value) }
func (f *Filter) Gte(field string, value any) *Filter       { return f.add(field, OpGte, value) }
func (f *Filter) Lt(field string, value any) *Filter        { return f.add(field, OpLt, value) }
func (f *Filter) Lte(field string, value any) *Filter       { return f.add(field, OpLte, value) }
func (f *Filter) Like(field string, value string) *Filter   { return f.add(field, OpLike, value) }
func (f *Filter) In(field string, values any) *Filter       { return f.add(field, OpIn, values) }
func (f *Filter) Between(field string, lo, hi any) *Filter {
	return f.add(field, OpBetween, [2]any{lo, hi})
}
func (f *Filter) IsNull(field string) *Filter    { return f.add(field, OpIsNull, nil) }
func (f *Filter) IsNotNull(field string) *Filter { return f.add(field, OpIsNotNull, nil) }
func (f *Filter) HasKey(field, key string) *Filter {
	return f.add(field, OpHasKey, key)
}
func (f *Filter) Contains(field string, value any) *Filter {
	return f.add(field, OpContains, value)
}

// Order sets ordering; desc=true orders descending.
func (f *Filter) Order(field string, desc bool) *Filter {
	f.OrderBy = field
	f.Desc = desc
	return f
}

// Page sets a limit/offset pagination window.
func (f *Filter) Page(limit, offset int) *Filter {
	f.Limit = limit
	f.Offset = offset
	return f
}

// Match evaluates the filter against a plain field getter, used by the
// in-memory store implementation. get must return the field's value for
// the named condition field, or an error if the field is unknown.
func (f *Filter) Match(get func(field string) (any, error)) (bool, error) {
	for _, c := range f.Conditions {
		v, err := get(c.Field)
		if err != nil {
			return false, fmt.Errorf("filter field %q: %w", c.Field, err)
		}
		ok, err := matchCondition(c, v)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchCondition(c Condition, v any) (bool, error) {
	switch c.Op {
	case OpIsNull:
		return v == nil, nil
	case OpIsNotNull:
		return v != nil, nil
	case OpEq:
		return compareEq(v, c.Value), nil
	case OpNeq:
		return !compareEq(v, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		return compareOrdered(c.Op, v, c.Value)
	case OpLike:
		s, _ := v.(string)
		pat, _ := c.Value.(string)
		return likeMatch(s, pat), nil
	case OpIn:
		return inSlice(v, c.Value), nil
	case OpBetween:
		bounds, ok := c.Value.([2]any)
		if !ok {
			return false, fmt.Errorf("between requires a 2-element bound")
		}
		gte, err := compareOrdered(OpGte, v, bounds[0])
		if err != nil {
			return false, err
		}
		lte, err := compareOrdered(OpLte, v, bounds[1])
		if err != nil {
			return false, err
		}
		return gte && lte, nil
	case OpHasKey:
		m, ok := v.(map[string]string)
		if !ok {
			if mm, ok2 := v.(map[string]any); ok2 {
				key, _ := c.Value.(string)
				_, present := mm[key]
				return present, nil
			}
			return false, nil
		}
		key, _ := c.Value.(string)
		_, present := m[key]
		return present, nil
	case OpContains:
		return compareEq(v, c.Value), nil
	default:
		return false, fmt.Errorf("unsupported operator %q", c.Op)
	}
}
