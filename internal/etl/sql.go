package etl

import (
	"context"
	"database/sql"
	"fmt"
	"iter"

	"github.com/BartekS5/ack/pkg/database"
	"github.com/BartekS5/ack/pkg/etlerr"
	"github.com/BartekS5/ack/pkg/models"
	"github.com/BartekS5/ack/pkg/utils"
)

type SQLOptions struct {
	Table    string `mapstructure:"table" validate:"required_without=Query,excluded_with=Query"`
	OrderBy  string `mapstructure:"order_by" validate:"required_with=Table"`
	Query    string `mapstructure:"query"`
	PageSize int    `mapstructure:"page_size" validate:"gte=0"`
}

// SQLReader reads rows from SQL Server, either by paging over a table in key
// order or by streaming the rows of one query.
type SQLReader struct {
	name string
	db   *sql.DB
	opts SQLOptions
}

func newSQLReader(_ context.Context, name string, o *SQLOptions, d Deps) (Reader, error) {
	conn := d.env().SQLConnString
	if err := requireEnv("SQL_CONNECTION_STRING", conn); err != nil {
		return nil, err
	}
	db, err := database.ConnectSQL(conn)
	if err != nil {
		return nil, &etlerr.SourceError{Source: name, Err: err}
	}
	return NewSQLReader(name, db, *o), nil
}

func NewSQLReader(name string, db *sql.DB, o SQLOptions) *SQLReader {
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	return &SQLReader{name: name, db: db, opts: o}
}

func (s *SQLReader) Type() string { return "sql" }

func (s *SQLReader) Close(context.Context) error { return s.db.Close() }

func (s *SQLReader) Produce(ctx context.Context) iter.Seq2[models.Mapping, error] {
	return func(yield func(models.Mapping, error) bool) {
		if s.opts.Query != "" {
			s.stream(ctx, s.opts.Query, yield)
			return
		}
		for offset := 0; ; offset += s.opts.PageSize {
			n, more := s.stream(ctx, pageQuery(s.opts.Table, s.opts.OrderBy, offset, s.opts.PageSize), yield)
			if !more || n < s.opts.PageSize {
				return
			}
		}
	}
}

func pageQuery(table, orderBy string, offset, size int) string {
	return fmt.Sprintf("SELECT * FROM %s ORDER BY %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
		table, orderBy, offset, size)
}

// stream yields the rows of one query. It returns the row count and whether
// the caller may continue.
func (s *SQLReader) stream(ctx context.Context, query string, yield func(models.Mapping, error) bool) (int, bool) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		yield(nil, s.fail(err))
		return 0, false
	}
	defer closeQuietly(rows, "rows")

	cols, err := rows.Columns()
	if err != nil {
		yield(nil, s.fail(err))
		return 0, false
	}
	n := 0
	for rows.Next() {
		columns := make([]any, len(cols))
		columnPointers := make([]any, len(cols))
		for i := range columns {
			columnPointers[i] = &columns[i]
		}
		if err := rows.Scan(columnPointers...); err != nil {
			yield(nil, s.fail(err))
			return n, false
		}
		m, err := utils.FromColumns(cols, columns)
		if err != nil {
			yield(nil, s.fail(err))
			return n, false
		}
		n++
		if !yield(m, nil) {
			return n, false
		}
	}
	if err := rows.Err(); err != nil {
		yield(nil, s.fail(err))
		return n, false
	}
	return n, true
}

func (s *SQLReader) fail(err error) error {
	return &etlerr.SourceError{Source: s.name, Err: err}
}
