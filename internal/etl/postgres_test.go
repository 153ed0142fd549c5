package etl

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/ack/pkg/models"
)

func expectExistingColumns(mock pgxmock.PgxPoolIface, kv ...string) {
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "public"."users" ("_partition" text NOT NULL)`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	rows := pgxmock.NewRows([]string{"column_name", "data_type"}).AddRow(PartitionField, "text")
	for i := 0; i+1 < len(kv); i += 2 {
		rows.AddRow(kv[i], kv[i+1])
	}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT column_name, data_type FROM information_schema.columns`)).
		WithArgs("public", "users").
		WillReturnRows(rows)
}

func expectEnsureTable(mock pgxmock.PgxPoolIface) {
	expectExistingColumns(mock)
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "public"."users" ADD COLUMN IF NOT EXISTS "id" bigint`)).
		WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "public"."users" ADD COLUMN IF NOT EXISTS "name" text`)).
		WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))
}

func TestPostgresWriter(t *testing.T) {
	ctx := context.Background()

	t.Run("Should replace the key's rows and copy the chunk in one transaction", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		expectEnsureTable(mock)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."users" WHERE "_partition" = $1`)).
			WithArgs("users_00000").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		mock.ExpectCopyFrom(pgx.Identifier{"public", "users"}, []string{PartitionField, "id", "name"}).
			WillReturnResult(2)
		mock.ExpectCommit()

		w := NewPostgresWriter(mock, PostgresOptions{})
		require.NoError(t, w.Write(ctx, sampleChunk(t, 0), "users_00000"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should truncate before the first chunk with the truncate disposition", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		expectEnsureTable(mock)
		mock.ExpectExec(regexp.QuoteMeta(`TRUNCATE TABLE "public"."users"`)).
			WillReturnResult(pgxmock.NewResult("TRUNCATE TABLE", 0))
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."users"`)).
			WithArgs("users_00000").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"public", "users"}, []string{PartitionField, "id", "name"}).
			WillReturnResult(2)
		mock.ExpectCommit()

		w := NewPostgresWriter(mock, PostgresOptions{Disposition: DispositionTruncate})
		require.NoError(t, w.Write(ctx, sampleChunk(t, 0), "users_00000"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should roll back when the copy fails", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		expectEnsureTable(mock)
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."users"`)).
			WithArgs("users_00001").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"public", "users"}, []string{PartitionField, "id", "name"}).
			WillReturnError(errors.New("connection lost"))
		mock.ExpectRollback()

		w := NewPostgresWriter(mock, PostgresOptions{Disposition: DispositionTruncate})
		err = w.Write(ctx, sampleChunk(t, 1), "users_00001")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection lost")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should widen an existing column when a later chunk disagrees", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		expectExistingColumns(mock, "price", "bigint", "sku", "text")
		mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE "public"."users" ALTER COLUMN "price" TYPE double precision USING "price"::double precision`)).
			WillReturnResult(pgxmock.NewResult("ALTER TABLE", 0))
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."users"`)).
			WithArgs("users_00001").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"public", "users"}, []string{PartitionField, "price", "sku"}).
			WillReturnResult(1)
		mock.ExpectCommit()

		w := NewPostgresWriter(mock, PostgresOptions{})
		chunk := testChunk(t, "users", 1, models.NewFlat("price", 1.5, "sku", 42))
		require.NoError(t, w.Write(ctx, chunk, "users_00001"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should keep an existing column for a chunk of nulls", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		expectExistingColumns(mock, "price", "bigint")
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."users"`)).
			WithArgs("users_00002").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"public", "users"}, []string{PartitionField, "price"}).
			WillReturnResult(1)
		mock.ExpectCommit()

		w := NewPostgresWriter(mock, PostgresOptions{})
		chunk := testChunk(t, "users", 2, models.NewFlat("price", nil))
		require.NoError(t, w.Write(ctx, chunk, "users_00002"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Should use the configured schema and table", func(t *testing.T) {
		w := NewPostgresWriter(nil, PostgresOptions{Schema: "raw", Table: "people"})
		assert.Equal(t, pgx.Identifier{"raw", "people"}, w.table(sampleChunk(t, 0)))
	})
}

func TestColumnTypes(t *testing.T) {
	t.Run("Should widen mixed numbers and fall back to text", func(t *testing.T) {
		c := testChunk(t, "s", 0,
			models.NewFlat("n", 1, "mixed", 1, "flag", true, "empty", nil),
			models.NewFlat("n", 2.5, "mixed", "x", "flag", false, "empty", nil),
		)
		cols := c.Columns()

		assert.Equal(t, []string{"double precision", "text", "boolean", ""}, columnTypes(c, cols))
	})

	t.Run("Should widen stored types only as far as needed", func(t *testing.T) {
		assert.Equal(t, "double precision", widenType("bigint", "double precision"))
		assert.Equal(t, "double precision", widenType("double precision", "bigint"))
		assert.Equal(t, "text", widenType("bigint", "text"))
		assert.Equal(t, "text", widenType("boolean", "bigint"))
		assert.Equal(t, "text", widenType("text", "boolean"))
		assert.Equal(t, "bigint", widenType("bigint", ""))
		assert.Equal(t, "numeric", widenType("numeric", "text"))
	})

	t.Run("Should convert values to the column type", func(t *testing.T) {
		assert.Equal(t, float64(3), columnValue(int64(3), "double precision"))
		assert.Equal(t, "1", columnValue(int64(1), "text"))
		assert.Equal(t, "true", columnValue(true, "text"))
		assert.Nil(t, columnValue(nil, "bigint"))
		assert.Equal(t, int64(7), columnValue(int64(7), "bigint"))
	})
}
