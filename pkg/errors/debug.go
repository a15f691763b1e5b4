package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const maxChainLinks = 16

// ErrorDump is a log-friendly snapshot of an error tree.
type ErrorDump struct {
	TopMessage string         `json:"top_message"`
	Code       Code           `json:"code,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Chain      []string       `json:"chain,omitempty"`
	Postgres   *PGDiagnostics `json:"postgres,omitempty"`
}

// PGDiagnostics are the server-side fields of a Postgres error.
type PGDiagnostics struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Schema     string `json:"schema,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Hint       string `json:"hint,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Dump flattens err depth-first, following joined errors as well as single
// wraps, and lifts the first Postgres error it finds.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(te.Code()).Retryable
	}
	d.Chain = chain(err)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.Postgres = &PGDiagnostics{
			Code:       pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Schema:     pgErr.SchemaName,
			Table:      pgErr.TableName,
			Column:     pgErr.ColumnName,
			Detail:     pgErr.Detail,
			Hint:       pgErr.Hint,
			Message:    pgErr.Message,
		}
	}
	return d
}

func chain(err error) []string {
	var links []string
	stack := []error{err}
	for len(stack) > 0 && len(links) < maxChainLinks {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if e == nil {
			continue
		}
		links = append(links, fmt.Sprintf("%T: %v", e, e))
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			inner := u.Unwrap()
			for i := len(inner) - 1; i >= 0; i-- {
				stack = append(stack, inner[i])
			}
		case interface{ Unwrap() error }:
			stack = append(stack, u.Unwrap())
		}
	}
	return links
}

// Fields renders the dump as log fields, omitting what is empty.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if d.Retryable {
		fields["retryable"] = true
	}
	if len(d.Chain) > 0 {
		fields["error_chain"] = d.Chain
	}
	if pg := d.Postgres; pg != nil {
		for key, value := range map[string]string{
			"pg_code":       pg.Code,
			"pg_constraint": pg.Constraint,
			"pg_table":      pg.Table,
			"pg_column":     pg.Column,
			"pg_detail":     pg.Detail,
			"pg_hint":       pg.Hint,
			"pg_message":    pg.Message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
