package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/BartekS5/ack/internal/partition"
	"github.com/BartekS5/ack/internal/stream"
	"github.com/BartekS5/ack/pkg/database"
	"github.com/BartekS5/ack/pkg/logger"
)

const (
	DispositionAppend   = "append"
	DispositionTruncate = "truncate"
)

type PostgresOptions struct {
	Schema string `mapstructure:"schema"`
	// Table defaults to the stream name.
	Table string `mapstructure:"table"`
	// Disposition decides what happens to rows from earlier runs: append keeps
	// them, truncate empties the table before chunk 0. Rows of the key being
	// written are always replaced.
	Disposition string `mapstructure:"disposition" validate:"omitempty,oneof=append truncate"`
}

// PgxPool is the subset of *pgxpool.Pool the writer uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresWriter loads chunks into a warehouse table with COPY. Each chunk is
// one transaction that replaces the rows tagged with its partition key, so a
// retried chunk does not duplicate rows.
type PostgresWriter struct {
	pool PgxPool
	opts PostgresOptions
}

func newPostgresWriter(ctx context.Context, o *PostgresOptions, d Deps) (Writer, error) {
	conn := d.env().PostgresConnString
	if err := requireEnv("POSTGRES_CONNECTION_STRING", conn); err != nil {
		return nil, err
	}
	pool, err := database.ConnectPostgres(ctx, conn)
	if err != nil {
		return nil, err
	}
	return NewPostgresWriter(pool, *o), nil
}

func NewPostgresWriter(pool PgxPool, o PostgresOptions) *PostgresWriter {
	if o.Schema == "" {
		o.Schema = "public"
	}
	if o.Disposition == "" {
		o.Disposition = DispositionAppend
	}
	return &PostgresWriter{pool: pool, opts: o}
}

func (p *PostgresWriter) Type() string { return "postgres" }

func (p *PostgresWriter) Close(context.Context) error {
	p.pool.Close()
	return nil
}

func (p *PostgresWriter) table(chunk *stream.Chunk) pgx.Identifier {
	name := p.opts.Table
	if name == "" {
		name = stream.NormalizeKey(chunk.Stream)
	}
	return pgx.Identifier{p.opts.Schema, name}
}

func (p *PostgresWriter) Write(ctx context.Context, chunk *stream.Chunk, key partition.Key) (err error) {
	table := p.table(chunk)
	cols := chunk.Columns()
	types := columnTypes(chunk, cols)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				logger.Warn("rollback failed", "table", table.Sanitize(), "err", rbErr)
			}
		}
	}()

	if types, err = p.prepareTable(ctx, tx, table, cols, types); err != nil {
		return fmt.Errorf("prepare table %s: %w", table.Sanitize(), err)
	}
	if p.opts.Disposition == DispositionTruncate && chunk.Ordinal == 0 {
		if _, err = tx.Exec(ctx, "TRUNCATE TABLE "+table.Sanitize()); err != nil {
			return fmt.Errorf("truncate %s: %w", table.Sanitize(), err)
		}
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", table.Sanitize(), pgx.Identifier{PartitionField}.Sanitize())
	if _, err = tx.Exec(ctx, del, string(key)); err != nil {
		return fmt.Errorf("clear partition %s: %w", key, err)
	}

	copyCols := append([]string{PartitionField}, cols...)
	rows := make([][]any, 0, chunk.Len())
	for _, rec := range chunk.Records {
		row := make([]any, len(copyCols))
		row[0] = string(key)
		for i, c := range cols {
			v, _ := rec.Get(c)
			row[i+1] = columnValue(v, types[i])
		}
		rows = append(rows, row)
	}
	n, err := tx.CopyFrom(ctx, table, copyCols, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", table.Sanitize(), err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logger.Info("loaded chunk", "table", table.Sanitize(), "key", key, "rows", n)
	return nil
}

const existingColumnsSQL = `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2`

// prepareTable creates the table, adds the columns it is missing and widens
// columns whose stored type cannot hold the chunk's values. It returns the
// type each column has once the statements ran.
func (p *PostgresWriter) prepareTable(ctx context.Context, tx pgx.Tx, table pgx.Identifier, cols, types []string) ([]string, error) {
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s text NOT NULL)",
		table.Sanitize(), pgx.Identifier{PartitionField}.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return nil, err
	}
	existing, err := existingColumns(ctx, tx, table)
	if err != nil {
		return nil, err
	}
	final := make([]string, len(cols))
	for i, c := range cols {
		col := pgx.Identifier{c}.Sanitize()
		have, ok := existing[c]
		if !ok {
			typ := types[i]
			if typ == "" {
				typ = "text"
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table.Sanitize(), col, typ)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, err
			}
			final[i] = typ
			continue
		}
		want := widenType(have, types[i])
		if want != have {
			stmt := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
				table.Sanitize(), col, want, col, want)
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, err
			}
			logger.Warn("widened column", "table", table.Sanitize(), "column", c, "from", have, "to", want)
		}
		final[i] = want
	}
	return final, nil
}

func existingColumns(ctx context.Context, tx pgx.Tx, table pgx.Identifier) (map[string]string, error) {
	rows, err := tx.Query(ctx, existingColumnsSQL, table[0], table[1])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		out[name] = typ
	}
	return out, rows.Err()
}

// widenType returns the narrowest type that holds values of both have and
// got. An empty got means only nulls were seen. Types this writer does not
// create are kept as they are.
func widenType(have, got string) string {
	switch {
	case got == "", !knownType(have), have == got, have == "text":
		return have
	case have == "double precision" && got == "bigint":
		return have
	case have == "bigint" && got == "double precision":
		return got
	default:
		return "text"
	}
}

func knownType(t string) bool {
	switch t {
	case "bigint", "double precision", "boolean", "text":
		return true
	}
	return false
}

// columnTypes picks a column type from the values seen in the chunk. A
// column whose values disagree falls back to text; a column holding only
// nulls gets no type. prepareTable reconciles the result with the table's
// existing columns.
func columnTypes(chunk *stream.Chunk, cols []string) []string {
	types := make([]string, len(cols))
	for i, c := range cols {
		t := ""
		for _, rec := range chunk.Records {
			v, ok := rec.Get(c)
			if !ok || v == nil {
				continue
			}
			vt := sqlType(v)
			if t == "" {
				t = vt
			} else {
				t = widenType(t, vt)
			}
		}
		types[i] = t
	}
	return types
}

func sqlType(v any) string {
	switch v.(type) {
	case int64:
		return "bigint"
	case float64:
		return "double precision"
	case bool:
		return "boolean"
	default:
		return "text"
	}
}

func columnValue(v any, typ string) any {
	if v == nil {
		return nil
	}
	switch typ {
	case "text":
		if s, ok := v.(string); ok {
			return s
		}
		return strings.TrimSpace(fmt.Sprint(v))
	case "double precision":
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	}
	return v
}
