package vectorstore

import (
	"strconv"
)

// Filter restricts queries and scans to documents whose metadata satisfies
// every condition (logical AND). A nil filter matches everything.
type Filter struct {
	Must []Condition
}

// Condition is a predicate on a single metadata field. Exactly one of
// Equals, In or Range is set.
type Condition struct {
	Field string

	// Equals matches the field exactly. The value keeps the type the
	// document was stored with (string, int, float64, bool).
	Equals any

	// In matches if the field equals any of the given strings.
	In []string

	// Range matches numerically.
	Range *Range
}

// Range bounds a numeric field. Nil bounds are open.
type Range struct {
	GTE *float64
	GT  *float64
	LTE *float64
	LT  *float64
}

// Eq builds an equality condition.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Equals: value}
}

// In builds an any-of condition.
func In(field string, values ...string) Condition {
	return Condition{Field: field, In: values}
}

// GTE builds a lower-bound condition.
func GTE(field string, min float64) Condition {
	return Condition{Field: field, Range: &Range{GTE: &min}}
}

// LT builds an exclusive upper-bound condition.
func LT(field string, max float64) Condition {
	return Condition{Field: field, Range: &Range{LT: &max}}
}

// LTE builds an inclusive upper-bound condition.
func LTE(field string, max float64) Condition {
	return Condition{Field: field, Range: &Range{LTE: &max}}
}

// Between builds an inclusive range condition.
func Between(field string, min, max float64) Condition {
	return Condition{Field: field, Range: &Range{GTE: &min, LTE: &max}}
}

// NewFilter builds a filter from conditions; no conditions yields nil,
// meaning unfiltered.
func NewFilter(conds ...Condition) *Filter {
	if len(conds) == 0 {
		return nil
	}
	return &Filter{Must: conds}
}

// Matches reports whether the metadata satisfies every condition.
// Used by backends that evaluate part of the filter client-side.
func (f *Filter) Matches(metadata map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(metadata) {
			return false
		}
	}
	return true
}

func (c Condition) matches(metadata map[string]any) bool {
	value, ok := metadata[c.Field]
	if !ok {
		return false
	}

	switch {
	case c.Equals != nil:
		return metadataString(value) == metadataString(c.Equals)
	case len(c.In) > 0:
		s := metadataString(value)
		for _, candidate := range c.In {
			if s == candidate {
				return true
			}
		}
		return false
	case c.Range != nil:
		n, ok := metadataFloat(value)
		if !ok {
			return false
		}
		r := c.Range
		if r.GTE != nil && n < *r.GTE {
			return false
		}
		if r.GT != nil && n <= *r.GT {
			return false
		}
		if r.LTE != nil && n > *r.LTE {
			return false
		}
		if r.LT != nil && n >= *r.LT {
			return false
		}
		return true
	default:
		return false
	}
}

// metadataString renders a metadata value in its canonical string form,
// matching how string-only backends store it.
func metadataString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// metadataFloat coerces a metadata value to float64 for range comparison.
func metadataFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		n, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
