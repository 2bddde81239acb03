package eventstore

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
)

// Operator is a comparison operator of a metadata matcher term.
// Operators form a fixed enum; anything else is rejected when the matcher
// is built, so no operator ever reaches the SQL layer unchecked.
type Operator string

const (
	OpEquals            Operator = "="
	OpNotEquals         Operator = "!="
	OpGreaterThan       Operator = ">"
	OpGreaterThanEquals Operator = ">="
	OpLowerThan         Operator = "<"
	OpLowerThanEquals   Operator = "<="
	OpIn                Operator = "IN"
	OpNotIn             Operator = "NOT IN"
	OpRegex             Operator = "REGEX"
)

// FieldType selects what a match term is applied against.
type FieldType int

const (
	// FieldTypeMetadata matches against a key of the event's metadata map.
	FieldTypeMetadata FieldType = iota

	// FieldTypeMessageProperty matches against an intrinsic envelope property.
	FieldTypeMessageProperty
)

// Message properties that can be matched with FieldTypeMessageProperty.
const (
	PropertyEventID   = "event_id"
	PropertyEventName = "event_name"
	PropertyCreatedAt = "created_at"
)

var ErrInvalidMatcherField = errors.New("matcher field contains invalid characters")
var ErrInvalidMatcherOperator = errors.New("matcher operator is not part of the known set")
var ErrInvalidMatcherValue = errors.New("matcher value does not fit the operator")
var ErrInvalidMessageProperty = errors.New("matcher field is not a known message property")

// matcherFieldPattern is the injection boundary for metadata field names.
var matcherFieldPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// MatchTerm is a single (field, operator, value) predicate.
type MatchTerm struct {
	Field     string
	Operator  Operator
	Value     any
	FieldType FieldType
}

// MatchMetadata builds a term matching a metadata field.
func MatchMetadata(field string, op Operator, value any) MatchTerm {
	return MatchTerm{Field: field, Operator: op, Value: value, FieldType: FieldTypeMetadata}
}

// MatchProperty builds a term matching an intrinsic message property
// (PropertyEventID, PropertyEventName or PropertyCreatedAt).
func MatchProperty(property string, op Operator, value any) MatchTerm {
	return MatchTerm{Field: property, Operator: op, Value: value, FieldType: FieldTypeMessageProperty}
}

// MetadataMatcher is an ordered conjunction of match terms over event metadata
// and message properties. The zero value matches every event.
//
// The matcher itself is storage-agnostic; the persistence strategies translate
// it into SQL with bound values, and the in-memory engine evaluates it directly.
type MetadataMatcher struct {
	terms []MatchTerm
}

// NewMetadataMatcher validates the given terms and combines them into a
// matcher. All terms must match for an event to pass (conjunction).
func NewMetadataMatcher(terms ...MatchTerm) (MetadataMatcher, error) {
	for _, term := range terms {
		if err := validateTerm(term); err != nil {
			return MetadataMatcher{}, err
		}
	}

	return MetadataMatcher{terms: terms}, nil
}

// Terms returns the ordered terms of the matcher.
func (m MetadataMatcher) Terms() []MatchTerm {
	return m.terms
}

// IsEmpty reports whether the matcher has no terms and thus matches everything.
func (m MetadataMatcher) IsEmpty() bool {
	return len(m.terms) == 0
}

func validateTerm(term MatchTerm) error {
	switch term.FieldType {
	case FieldTypeMetadata:
		if !matcherFieldPattern.MatchString(term.Field) {
			return fmt.Errorf("%w: %q", ErrInvalidMatcherField, term.Field)
		}

	case FieldTypeMessageProperty:
		switch term.Field {
		case PropertyEventID, PropertyEventName, PropertyCreatedAt:
		default:
			return fmt.Errorf("%w: %q", ErrInvalidMessageProperty, term.Field)
		}
	}

	switch term.Operator {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanEquals, OpLowerThan, OpLowerThanEquals:
		if term.Value == nil {
			return fmt.Errorf("%w: %s requires a scalar value", ErrInvalidMatcherValue, term.Operator)
		}

	case OpIn, OpNotIn:
		if reflect.ValueOf(term.Value).Kind() != reflect.Slice {
			return fmt.Errorf("%w: %s requires a slice value", ErrInvalidMatcherValue, term.Operator)
		}

	case OpRegex:
		pattern, ok := term.Value.(string)
		if !ok {
			return fmt.Errorf("%w: REGEX requires a string pattern", ErrInvalidMatcherValue)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMatcherValue, err)
		}

	default:
		return fmt.Errorf("%w: %q", ErrInvalidMatcherOperator, term.Operator)
	}

	return nil
}

// TermValues normalizes the value of an IN / NOT IN term into a []any.
func TermValues(term MatchTerm) []any {
	rv := reflect.ValueOf(term.Value)
	if rv.Kind() != reflect.Slice {
		return []any{term.Value}
	}

	values := make([]any, rv.Len())
	for i := range values {
		values[i] = rv.Index(i).Interface()
	}

	return values
}
