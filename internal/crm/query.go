package crm

import (
	"errors"
	"fmt"
	"strings"
)

// Query describes a lookup of records of one object type.
// A query with an empty Field returns every record of the object type.
type Query struct {
	// Field is the API name of the field to filter on.
	Field string

	// Fields optionally restricts the returned fields. Id is always included.
	Fields []string

	// Limit caps the number of results when positive.
	Limit int

	// Object is the object type to query.
	Object ObjectType

	// Values are matched for equality against Field; more than one value matches any of them.
	Values []string
}

// Where returns a query for records of object whose field equals one of values.
func Where(object ObjectType, field string, values ...string) Query {
	return Query{
		Field:  field,
		Object: object,
		Values: values,
	}
}

// Validate checks the query is well formed.
func (q Query) Validate() error {
	var errs []error
	if q.Object == "" {
		errs = append(errs, errors.New("object type is required"))
	} else if q.Object.Fields() == nil {
		errs = append(errs, fmt.Errorf("unsupported object type %q", q.Object))
	}
	if q.Field != "" {
		if !validFieldName(q.Field) {
			errs = append(errs, fmt.Errorf("invalid field name %q", q.Field))
		}
		if len(q.Values) == 0 {
			errs = append(errs, fmt.Errorf("at least one value is required for field %s", q.Field))
		}
	}
	for _, f := range q.Fields {
		if !validFieldName(f) {
			errs = append(errs, fmt.Errorf("invalid field name %q", f))
		}
	}
	if q.Limit < 0 {
		errs = append(errs, fmt.Errorf("limit must not be negative, got %d", q.Limit))
	}
	return errors.Join(errs...)
}

// Projection returns the fields to select, Id first and without duplicates.
func (q Query) Projection() []string {
	fields := q.Fields
	if len(fields) == 0 {
		fields = q.Object.Fields()
	}

	out := []string{FieldID}
	seen := map[string]bool{FieldID: true}
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// validFieldName reports whether name is a plain API field name (letters, digits, underscores).
func validFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// buildSOQL renders the query in the platform's query language.
func buildSOQL(q Query) (string, error) {
	if err := q.Validate(); err != nil {
		return "", fmt.Errorf("invalid query: %w", err)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Projection(), ", "))
	b.WriteString(" FROM ")
	b.WriteString(string(q.Object))

	if q.Field != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Field)
		if len(q.Values) == 1 {
			b.WriteString(" = ")
			b.WriteString(quoteSOQL(q.Values[0]))
		} else {
			quoted := make([]string, len(q.Values))
			for i, v := range q.Values {
				quoted[i] = quoteSOQL(v)
			}
			b.WriteString(" IN (")
			b.WriteString(strings.Join(quoted, ", "))
			b.WriteString(")")
		}
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	return b.String(), nil
}

// soqlEscaper escapes characters that are significant inside a quoted literal.
var soqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// quoteSOQL returns value as a quoted string literal.
func quoteSOQL(value string) string {
	return "'" + soqlEscaper.Replace(value) + "'"
}
