package store

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

func newMockMySQLBackend(t *testing.T) (*SQLBackend, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS `_resx_tables` (name VARCHAR(255) PRIMARY KEY")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	b, err := newSQLBackend(db, "mysql", "")
	require.NoError(t, err)
	return b, mock
}

func expectLookup(mock sqlmock.Sqlmock, table string, kind string, seq int64) {
	mock.ExpectQuery(q("SELECT kind, seq FROM `_resx_tables` WHERE name = ?")).
		WithArgs(table).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "seq"}).AddRow(kind, seq))
}

func TestSQLBackend_MySQL(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		run       func(b *SQLBackend) error
		expectErr error
	}{
		{
			name: "create table",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS `users` (id BIGINT PRIMARY KEY, data LONGTEXT NOT NULL)")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(q("INSERT IGNORE INTO `_resx_tables` (name, kind, seq) VALUES (?, ?, 0)")).
					WithArgs("users", "integer").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			run: func(b *SQLBackend) error {
				return b.CreateTable(ctx, "users", IDInteger)
			},
		},
		{
			name: "create string table",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q("CREATE TABLE IF NOT EXISTS `tags` (id VARCHAR(255) PRIMARY KEY, data LONGTEXT NOT NULL)")).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(q("INSERT IGNORE INTO `_resx_tables`")).
					WithArgs("tags", "string").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
			run: func(b *SQLBackend) error {
				return b.CreateTable(ctx, "tags", IDString)
			},
		},
		{
			name: "insert advances sequence",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLookup(mock, "users", "integer", 3)
				mock.ExpectQuery(q("SELECT 1 FROM `users` WHERE id = ?")).
					WithArgs(int64(7)).
					WillReturnRows(sqlmock.NewRows([]string{"1"}))
				mock.ExpectExec(q("INSERT INTO `users` (id, data) VALUES (?, ?)")).
					WithArgs(int64(7), `{"name":"alice"}`).
					WillReturnResult(sqlmock.NewResult(7, 1))
				mock.ExpectExec(q("UPDATE `_resx_tables` SET seq = ? WHERE name = ?")).
					WithArgs(int64(7), "users").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			run: func(b *SQLBackend) error {
				return b.Insert(ctx, "users", int64(7), `{"name":"alice"}`)
			},
		},
		{
			name: "insert below sequence",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLookup(mock, "users", "integer", 10)
				mock.ExpectQuery(q("SELECT 1 FROM `users` WHERE id = ?")).
					WillReturnRows(sqlmock.NewRows([]string{"1"}))
				mock.ExpectExec(q("INSERT INTO `users` (id, data) VALUES (?, ?)")).
					WillReturnResult(sqlmock.NewResult(2, 1))
				mock.ExpectCommit()
			},
			run: func(b *SQLBackend) error {
				return b.Insert(ctx, "users", int64(2), `{}`)
			},
		},
		{
			name: "insert duplicate",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLookup(mock, "users", "integer", 1)
				mock.ExpectQuery(q("SELECT 1 FROM `users` WHERE id = ?")).
					WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
				mock.ExpectRollback()
			},
			run: func(b *SQLBackend) error {
				return b.Insert(ctx, "users", int64(1), `{}`)
			},
			expectErr: ErrDuplicateKey,
		},
		{
			name: "insert into missing table",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(q("SELECT kind, seq FROM `_resx_tables` WHERE name = ?")).
					WithArgs("users").
					WillReturnRows(sqlmock.NewRows([]string{"kind", "seq"}))
				mock.ExpectRollback()
			},
			run: func(b *SQLBackend) error {
				return b.Insert(ctx, "users", int64(1), `{}`)
			},
			expectErr: ErrTableNotFound,
		},
		{
			name: "insert string id into integer table",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLookup(mock, "users", "integer", 0)
				mock.ExpectRollback()
			},
			run: func(b *SQLBackend) error {
				return b.Insert(ctx, "users", "abc", `{}`)
			},
			expectErr: ErrIDTypeMismatch,
		},
		{
			name: "update missing row",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLookup(mock, "users", "integer", 1)
				mock.ExpectQuery(q("SELECT 1 FROM `users` WHERE id = ?")).
					WithArgs(int64(9)).
					WillReturnRows(sqlmock.NewRows([]string{"1"}))
				mock.ExpectRollback()
			},
			run: func(b *SQLBackend) error {
				return b.Update(ctx, "users", int64(9), `{}`)
			},
			expectErr: ErrRecordNotFound,
		},
		{
			name: "update",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLookup(mock, "users", "integer", 1)
				mock.ExpectQuery(q("SELECT 1 FROM `users` WHERE id = ?")).
					WithArgs(int64(1)).
					WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
				mock.ExpectExec(q("UPDATE `users` SET data = ? WHERE id = ?")).
					WithArgs(`{"name":"bob"}`, int64(1)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			run: func(b *SQLBackend) error {
				return b.Update(ctx, "users", int64(1), `{"name":"bob"}`)
			},
		},
		{
			name: "reset drops tables in order",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q("SELECT name, kind FROM `_resx_tables`")).
					WillReturnRows(sqlmock.NewRows([]string{"name", "kind"}).
						AddRow("users", "integer").
						AddRow("tags", "string"))
				mock.ExpectExec(q("DROP TABLE IF EXISTS `tags`")).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(q("DROP TABLE IF EXISTS `users`")).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(q("DELETE FROM `_resx_tables`")).WillReturnResult(sqlmock.NewResult(0, 2))
			},
			run: func(b *SQLBackend) error {
				return b.Reset(ctx)
			},
		},
		{
			name: "begin failed",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(assert.AnError)
			},
			run: func(b *SQLBackend) error {
				return b.Insert(ctx, "users", int64(1), `{}`)
			},
			expectErr: assert.AnError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, mock := newMockMySQLBackend(t)
			tt.setupMock(mock)

			err := tt.run(b)
			if tt.expectErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectErr), "unexpected error: %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLBackend_MySQLScan(t *testing.T) {
	ctx := context.Background()

	t.Run("scan string table", func(t *testing.T) {
		b, mock := newMockMySQLBackend(t)
		expectLookup(mock, "tags", "string", 0)
		mock.ExpectQuery(q("SELECT id, data FROM `tags` ORDER BY id")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
				AddRow("blue", `{}`).
				AddRow("red", `{"hex":"#f00"}`))

		rows, err := b.Scan(ctx, "tags")
		require.NoError(t, err)
		assert.Equal(t, []Row{{ID: "blue", Data: `{}`}, {ID: "red", Data: `{"hex":"#f00"}`}}, rows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scan integer table", func(t *testing.T) {
		b, mock := newMockMySQLBackend(t)
		expectLookup(mock, "users", "integer", 2)
		mock.ExpectQuery(q("SELECT id, data FROM `users` ORDER BY id")).
			WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
				AddRow(int64(1), `{}`).
				AddRow(int64(2), `{}`))

		rows, err := b.Scan(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, []Row{{ID: int64(1), Data: `{}`}, {ID: int64(2), Data: `{}`}}, rows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scan missing table", func(t *testing.T) {
		b, mock := newMockMySQLBackend(t)
		mock.ExpectQuery(q("SELECT kind, seq FROM `_resx_tables` WHERE name = ?")).
			WillReturnRows(sqlmock.NewRows([]string{"kind", "seq"}))

		rows, err := b.Scan(ctx, "users")
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("next id", func(t *testing.T) {
		b, mock := newMockMySQLBackend(t)
		expectLookup(mock, "users", "integer", 41)

		next, err := b.NextID(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, int64(42), next)
	})
}
