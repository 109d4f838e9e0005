// Copyright 2026 The Beacon Authors
// SPDX-License-Identifier: Apache-2.0

package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/beacon-telemetry/beacon/lib/event"
)

// DB wraps a *sql.DB so that statements run through it are reported
// as DB_QUERY, or DB_ERROR when the driver returns an error. Only the
// statement's verb and table are recorded, never its arguments.
type DB struct {
	in *Instrumenter
	db *sql.DB
}

// DB returns db wrapped for observation.
func (in *Instrumenter) DB(db *sql.DB) *DB {
	return &DB{in: in, db: db}
}

// Unwrap returns the underlying database for calls the wrapper does
// not cover, such as transactions.
func (d *DB) Unwrap() *sql.DB { return d.db }

// ExecContext runs query via sql.DB.ExecContext.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := d.in.clock.Now()
	result, err := d.db.ExecContext(ctx, query, args...)
	d.report(query, start, err)
	return result, err
}

// QueryContext runs query via sql.DB.QueryContext.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := d.in.clock.Now()
	rows, err := d.db.QueryContext(ctx, query, args...)
	d.report(query, start, err)
	return rows, err
}

// QueryRowContext runs query via sql.DB.QueryRowContext. Only errors
// from running the statement are reported; sql.ErrNoRows surfaces at
// Scan and is not an error of the query.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := d.in.clock.Now()
	row := d.db.QueryRowContext(ctx, query, args...)
	d.report(query, start, row.Err())
	return row
}

func (d *DB) report(query string, start time.Time, err error) {
	if d.in.disabled.Database {
		return
	}
	data := map[string]any{
		"query_type": queryType(query),
		"table":      tableName(query),
	}
	metrics := d.in.since(start)
	if err != nil {
		data["exception_type"] = fmt.Sprintf("%T", err)
		data["message"] = err.Error()
		d.in.emit(event.TypeDBError, event.CategoryDatabase, event.StatusFailure, data, metrics)
		return
	}
	d.in.emit(event.TypeDBQuery, event.CategoryDatabase, event.StatusSuccess, data, metrics)
}

const unknownSQL = "UNKNOWN"

// queryType is the statement's leading keyword, upper-cased.
func queryType(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return unknownSQL
	}
	return strings.ToUpper(fields[0])
}

// tableName is the identifier following the first FROM, INTO, UPDATE,
// JOIN, or TABLE keyword, without quoting or schema brackets.
func tableName(query string) string {
	fields := strings.Fields(query)
	for i, field := range fields {
		switch strings.ToUpper(field) {
		case "FROM", "INTO", "UPDATE", "JOIN", "TABLE":
		default:
			continue
		}
		for _, candidate := range fields[i+1:] {
			switch strings.ToUpper(candidate) {
			case "IF", "NOT", "EXISTS", "ONLY":
				continue
			}
			candidate, _, _ = strings.Cut(candidate, "(")
			if name := strings.Trim(candidate, "`\"[];,"); name != "" {
				return name
			}
			break
		}
	}
	return unknownSQL
}
