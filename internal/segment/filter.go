// Package segment validates dynamic customer filters, compiles them to
// SQL and keeps segment memberships in step with live customer data.
package segment

import (
	"fmt"
	"strings"
	"time"

	"merchpulse.io/pulse/internal/domain"
	apperrors "merchpulse.io/pulse/internal/pkg/errors"
)

type fieldType int

const (
	ftNumeric fieldType = iota
	ftInt
	ftString
	ftBool
	ftDate
	ftSegment
)

type fieldSpec struct {
	// expr is the SQL expression the field compiles to. Most fields map
	// to a bare column; derived fields carry a computed expression.
	expr     string
	typ      fieldType
	nullable bool
}

// customerFields is the closed set of filterable fields. Field names
// match the customer JSON representation the dashboard works with.
var customerFields = map[string]fieldSpec{
	"email":                 {expr: "email", typ: ftString},
	"first_name":            {expr: "first_name", typ: ftString},
	"last_name":             {expr: "last_name", typ: ftString},
	"orders_count":          {expr: "orders_count", typ: ftInt},
	"total_spent":           {expr: "total_spent", typ: ftNumeric},
	"avg_order_value":       {expr: "avg_order_value", typ: ftNumeric},
	"first_order_date":      {expr: "first_order_date", typ: ftDate, nullable: true},
	"last_order_date":       {expr: "last_order_date", typ: ftDate, nullable: true},
	"days_since_last_order": {expr: "(now()::date - last_order_date::date)", typ: ftInt, nullable: true},
	"recency_score":         {expr: "recency_score", typ: ftInt},
	"frequency_score":       {expr: "frequency_score", typ: ftInt},
	"monetary_score":        {expr: "monetary_score", typ: ftInt},
	"rfm_segment":           {expr: "rfm_segment", typ: ftSegment, nullable: true},
	"is_high_value":         {expr: "is_high_value", typ: ftBool},
	"is_churn_risk":         {expr: "is_churn_risk", typ: ftBool},
	"created_at":            {expr: "created_at", typ: ftDate},
}

// operators allowed per field type.
var typeOperators = map[fieldType]map[domain.FilterOperator]bool{
	ftNumeric: scalarOps(),
	ftInt:     scalarOps(),
	ftDate:    scalarOps(),
	ftString: {
		domain.OpEq: true, domain.OpNeq: true,
		domain.OpIn: true, domain.OpNotIn: true,
		domain.OpContains: true,
		domain.OpIsNull:   true, domain.OpIsNotNull: true,
	},
	ftSegment: {
		domain.OpEq: true, domain.OpNeq: true,
		domain.OpIn: true, domain.OpNotIn: true,
		domain.OpIsNull: true, domain.OpIsNotNull: true,
	},
	ftBool: {
		domain.OpEq: true, domain.OpNeq: true,
	},
}

func scalarOps() map[domain.FilterOperator]bool {
	return map[domain.FilterOperator]bool{
		domain.OpEq: true, domain.OpNeq: true,
		domain.OpGt: true, domain.OpGte: true,
		domain.OpLt: true, domain.OpLte: true,
		domain.OpIn: true, domain.OpNotIn: true,
		domain.OpBetween: true,
		domain.OpIsNull:  true, domain.OpIsNotNull: true,
	}
}

// Validate checks a filter tree for schema correctness before any SQL
// is built. It returns every problem found, not just the first.
func Validate(group domain.FilterGroup) []apperrors.FieldError {
	var errs []apperrors.FieldError
	validateGroup(group, "", &errs)
	return errs
}

func validateGroup(group domain.FilterGroup, path string, errs *[]apperrors.FieldError) {
	if group.Logic != domain.FilterAnd && group.Logic != domain.FilterOr {
		*errs = append(*errs, apperrors.FieldError{
			Field:   joinPath(path, "logic"),
			Code:    apperrors.CodeValueInvalid,
			Message: fmt.Sprintf("logic must be %q or %q", domain.FilterAnd, domain.FilterOr),
		})
	}

	for i, cond := range group.Conditions {
		validateCondition(cond, joinPath(path, fmt.Sprintf("conditions[%d]", i)), errs)
	}
	for i, sub := range group.Groups {
		validateGroup(sub, joinPath(path, fmt.Sprintf("groups[%d]", i)), errs)
	}
}

func validateCondition(cond domain.FilterCondition, path string, errs *[]apperrors.FieldError) {
	spec, ok := customerFields[cond.Field]
	if !ok {
		*errs = append(*errs, apperrors.FieldError{
			Field:   path,
			Code:    apperrors.CodeUnknownField,
			Message: fmt.Sprintf("unknown field %q", cond.Field),
		})
		return
	}

	allowed := typeOperators[spec.typ]
	if !allowed[cond.Operator] {
		*errs = append(*errs, apperrors.FieldError{
			Field:   path,
			Code:    apperrors.CodeOperatorMismatch,
			Message: fmt.Sprintf("operator %q is not valid for field %q", cond.Operator, cond.Field),
		})
		return
	}

	switch cond.Operator {
	case domain.OpIsNull, domain.OpIsNotNull:
		if !spec.nullable {
			*errs = append(*errs, apperrors.FieldError{
				Field:   path,
				Code:    apperrors.CodeOperatorMismatch,
				Message: fmt.Sprintf("field %q is never null", cond.Field),
			})
		}
		return
	case domain.OpIn, domain.OpNotIn:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) == 0 {
			*errs = append(*errs, apperrors.FieldError{
				Field:   path,
				Code:    apperrors.CodeValueInvalid,
				Message: "value must be a non-empty array",
			})
			return
		}
		for _, v := range values {
			checkScalarValue(spec, cond.Field, v, path, errs)
		}
	case domain.OpBetween:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) != 2 {
			*errs = append(*errs, apperrors.FieldError{
				Field:   path,
				Code:    apperrors.CodeValueInvalid,
				Message: "value must be an array of exactly two elements",
			})
			return
		}
		for _, v := range values {
			checkScalarValue(spec, cond.Field, v, path, errs)
		}
	default:
		checkScalarValue(spec, cond.Field, cond.Value, path, errs)
	}
}

func checkScalarValue(spec fieldSpec, field string, value interface{}, path string, errs *[]apperrors.FieldError) {
	invalid := func(msg string) {
		*errs = append(*errs, apperrors.FieldError{Field: path, Code: apperrors.CodeValueInvalid, Message: msg})
	}

	switch spec.typ {
	case ftNumeric, ftInt:
		switch value.(type) {
		case float64, int, int64:
		default:
			invalid(fmt.Sprintf("field %q expects a numeric value", field))
		}
	case ftString:
		if _, ok := value.(string); !ok {
			invalid(fmt.Sprintf("field %q expects a string value", field))
		}
	case ftBool:
		if _, ok := value.(bool); !ok {
			invalid(fmt.Sprintf("field %q expects a boolean value", field))
		}
	case ftDate:
		s, ok := value.(string)
		if !ok {
			invalid(fmt.Sprintf("field %q expects a date string", field))
			return
		}
		if _, err := parseDate(s); err != nil {
			invalid(fmt.Sprintf("field %q expects an RFC 3339 or YYYY-MM-DD date, got %q", field, s))
		}
	case ftSegment:
		s, ok := value.(string)
		if !ok || !domain.RFMSegment(s).Valid() {
			invalid(fmt.Sprintf("field %q expects one of the known behavioral segments", field))
		}
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func joinPath(base, elem string) string {
	if base == "" {
		return elem
	}
	return base + "." + elem
}

// BuildWhere compiles a validated filter tree into a parameterized SQL
// clause. Placeholders start at startIndex so the caller can prepend
// its own parameters. Values never appear in the clause text.
func BuildWhere(group domain.FilterGroup, startIndex int) (string, []any, error) {
	b := &whereBuilder{next: startIndex}
	clause, err := b.group(group)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

type whereBuilder struct {
	next int
	args []any
}

func (b *whereBuilder) group(g domain.FilterGroup) (string, error) {
	var parts []string

	for _, cond := range g.Conditions {
		clause, err := b.condition(cond)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	for _, sub := range g.Groups {
		clause, err := b.group(sub)
		if err != nil {
			return "", err
		}
		if clause != "" {
			parts = append(parts, "("+clause+")")
		}
	}

	joiner := " AND "
	if g.Logic == domain.FilterOr {
		joiner = " OR "
	}
	return strings.Join(parts, joiner), nil
}

func (b *whereBuilder) condition(cond domain.FilterCondition) (string, error) {
	spec, ok := customerFields[cond.Field]
	if !ok {
		return "", fmt.Errorf("unknown field %q", cond.Field)
	}

	switch cond.Operator {
	case domain.OpEq:
		return fmt.Sprintf("%s = %s", spec.expr, b.bind(cond.Value)), nil
	case domain.OpNeq:
		return fmt.Sprintf("%s <> %s", spec.expr, b.bind(cond.Value)), nil
	case domain.OpGt:
		return fmt.Sprintf("%s > %s", spec.expr, b.bind(cond.Value)), nil
	case domain.OpGte:
		return fmt.Sprintf("%s >= %s", spec.expr, b.bind(cond.Value)), nil
	case domain.OpLt:
		return fmt.Sprintf("%s < %s", spec.expr, b.bind(cond.Value)), nil
	case domain.OpLte:
		return fmt.Sprintf("%s <= %s", spec.expr, b.bind(cond.Value)), nil
	case domain.OpIn:
		return fmt.Sprintf("%s = ANY(%s)", spec.expr, b.bind(pgArray(cond.Value))), nil
	case domain.OpNotIn:
		return fmt.Sprintf("NOT (%s = ANY(%s))", spec.expr, b.bind(pgArray(cond.Value))), nil
	case domain.OpBetween:
		values := toSlice(cond.Value)
		if len(values) != 2 {
			return "", fmt.Errorf("between on %q needs exactly two values", cond.Field)
		}
		lo, hi := b.bind(values[0]), b.bind(values[1])
		return fmt.Sprintf("%s BETWEEN %s AND %s", spec.expr, lo, hi), nil
	case domain.OpContains:
		s, _ := cond.Value.(string)
		return fmt.Sprintf("%s ILIKE %s", spec.expr, b.bind("%"+s+"%")), nil
	case domain.OpIsNull:
		return fmt.Sprintf("%s IS NULL", spec.expr), nil
	case domain.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", spec.expr), nil
	default:
		return "", fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func (b *whereBuilder) bind(value any) string {
	b.args = append(b.args, value)
	placeholder := fmt.Sprintf("$%d", b.next)
	b.next++
	return placeholder
}

func toSlice(value any) []any {
	if s, ok := value.([]interface{}); ok {
		return s
	}
	return nil
}

// pgArray converts a JSON-decoded array into a typed slice pgx can
// encode as a Postgres array parameter.
func pgArray(value any) any {
	values := toSlice(value)
	if len(values) == 0 {
		return values
	}
	switch values[0].(type) {
	case string:
		out := make([]string, 0, len(values))
		for _, v := range values {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case float64:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			if f, ok := v.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return values
	}
}
