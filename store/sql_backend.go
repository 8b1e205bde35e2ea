package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type SQLBackendOptions struct {
	// Driver 数据库驱动
	//   - sqlite3: github.com/mattn/go-sqlite3，需要 cgo
	//   - sqlite: modernc.org/sqlite，纯 go 实现
	//   - mysql: github.com/go-sql-driver/mysql
	Driver string `cfg:"driver" def:"sqlite3" validate:"oneof=sqlite3 sqlite mysql"`
	// DSN 不为空时忽略 Host、Port 等连接参数
	DSN      string `cfg:"dsn"`
	Host     string `cfg:"host" def:"localhost"`
	Port     string `cfg:"port" def:"3306"`
	Database string `cfg:"database" def:":memory:"`
	Username string `cfg:"username"`
	Password string `cfg:"password"`
	Charset  string `cfg:"charset" def:"utf8mb4"`
	MaxConns int    `cfg:"maxConns" def:"10"`
	MaxIdle  int    `cfg:"maxIdle" def:"5"`
	// MetaTable 记录表名、标识类型和序列的元数据表
	MetaTable string `cfg:"metaTable" def:"_resx_tables"`
}

type sqlDialect struct {
	quote      string
	insertOnce string
	keyType    map[IDKind]string
	dataType   string
}

var (
	sqliteDialect = &sqlDialect{
		quote:      `"`,
		insertOnce: "INSERT OR IGNORE INTO",
		keyType:    map[IDKind]string{IDInteger: "INTEGER", IDString: "TEXT"},
		dataType:   "TEXT",
	}
	mysqlDialect = &sqlDialect{
		quote:      "`",
		insertOnce: "INSERT IGNORE INTO",
		keyType:    map[IDKind]string{IDInteger: "BIGINT", IDString: "VARCHAR(255)"},
		dataType:   "LONGTEXT",
	}
)

func (d *sqlDialect) ident(name string) string {
	return d.quote + strings.ReplaceAll(name, d.quote, d.quote+d.quote) + d.quote
}

// SQLBackend 每个资源一张表 (id, data)，另有一张元数据表记录标识类型和序列
type SQLBackend struct {
	db      *sql.DB
	driver  string
	dialect *sqlDialect
	meta    string
}

func NewSQLBackendWithOptions(options *SQLBackendOptions) (*SQLBackend, error) {
	if options == nil {
		options = &SQLBackendOptions{}
	}

	dsn := options.DSN
	if dsn == "" {
		switch options.Driver {
		case "mysql":
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
				options.Username, options.Password, options.Host, options.Port, options.Database, options.Charset)
		case "sqlite3", "sqlite":
			dsn = options.Database
		default:
			return nil, errors.Errorf("unsupported driver: %s", options.Driver)
		}
	}

	db, err := sql.Open(options.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sql.Open failed. driver: %s", options.Driver)
	}

	// 内存 sqlite 每个连接是独立的数据库
	maxConns, maxIdle := options.MaxConns, options.MaxIdle
	if options.Driver != "mysql" && strings.Contains(dsn, ":memory:") {
		maxConns, maxIdle = 1, 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "db.Ping failed")
	}

	b, err := newSQLBackend(db, options.Driver, options.MetaTable)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func newSQLBackend(db *sql.DB, driver string, meta string) (*SQLBackend, error) {
	dialect := sqliteDialect
	if driver == "mysql" {
		dialect = mysqlDialect
	}
	if meta == "" {
		meta = "_resx_tables"
	}

	b := &SQLBackend{db: db, driver: driver, dialect: dialect, meta: dialect.ident(meta)}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (name VARCHAR(255) PRIMARY KEY, kind VARCHAR(16) NOT NULL, seq BIGINT NOT NULL DEFAULT 0)", b.meta)
	if _, err := db.Exec(ddl); err != nil {
		return nil, errors.Wrap(err, "create meta table failed")
	}
	return b, nil
}

func (b *SQLBackend) CreateTable(ctx context.Context, table string, kind IDKind) error {
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id %s PRIMARY KEY, data %s NOT NULL)",
		b.dialect.ident(table), b.dialect.keyType[kind], b.dialect.dataType)
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return errors.Wrapf(err, "create table %s failed", table)
	}

	stmt := fmt.Sprintf("%s %s (name, kind, seq) VALUES (?, ?, 0)", b.dialect.insertOnce, b.meta)
	if _, err := b.db.ExecContext(ctx, stmt, table, string(kind)); err != nil {
		return errors.Wrapf(err, "register table %s failed", table)
	}
	return nil
}

func (b *SQLBackend) Tables(ctx context.Context) (map[string]IDKind, error) {
	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("SELECT name, kind FROM %s", b.meta))
	if err != nil {
		return nil, errors.Wrap(err, "query tables failed")
	}
	defer rows.Close()

	tables := map[string]IDKind{}
	for rows.Next() {
		var name, kind string
		if err := rows.Scan(&name, &kind); err != nil {
			return nil, errors.Wrap(err, "rows.Scan failed")
		}
		k, err := parseIDKind(kind)
		if err != nil {
			return nil, errors.WithMessagef(err, "table %s", name)
		}
		tables[name] = k
	}
	return tables, errors.Wrap(rows.Err(), "rows.Err")
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lookup 读取表的元数据，表不存在时 ok 为 false
func (b *SQLBackend) lookup(ctx context.Context, q queryer, table string) (kind IDKind, seq int64, ok bool, err error) {
	var k string
	err = q.QueryRowContext(ctx, fmt.Sprintf("SELECT kind, seq FROM %s WHERE name = ?", b.meta), table).Scan(&k, &seq)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, errors.Wrapf(err, "lookup table %s failed", table)
	}
	kind, err = parseIDKind(k)
	if err != nil {
		return "", 0, false, err
	}
	return kind, seq, true, nil
}

func (b *SQLBackend) exists(ctx context.Context, q queryer, table string, id any) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", b.dialect.ident(table)), id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "query table %s failed", table)
	}
	return true, nil
}

func (b *SQLBackend) NextID(ctx context.Context, table string) (int64, error) {
	_, seq, ok, err := b.lookup(ctx, b.db, table)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.Wrapf(ErrTableNotFound, "table %s", table)
	}
	return seq + 1, nil
}

func (b *SQLBackend) Insert(ctx context.Context, table string, id any, data string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		kind, seq, ok, err := b.lookup(ctx, tx, table)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(ErrTableNotFound, "table %s", table)
		}
		if err := checkKind(kind, id); err != nil {
			return err
		}

		exists, err := b.exists(ctx, tx, table, id)
		if err != nil {
			return err
		}
		if exists {
			return errors.Wrapf(ErrDuplicateKey, "table %s id %v", table, id)
		}

		stmt := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?)", b.dialect.ident(table))
		if _, err := tx.ExecContext(ctx, stmt, id, data); err != nil {
			return errors.Wrapf(err, "insert into %s failed", table)
		}

		if n, ok := sequenceValue(id); ok && n > seq {
			stmt := fmt.Sprintf("UPDATE %s SET seq = ? WHERE name = ?", b.meta)
			if _, err := tx.ExecContext(ctx, stmt, n, table); err != nil {
				return errors.Wrapf(err, "advance sequence of %s failed", table)
			}
		}
		return nil
	})
}

func (b *SQLBackend) Update(ctx context.Context, table string, id any, data string) error {
	return b.withTx(ctx, func(tx *sql.Tx) error {
		_, _, ok, err := b.lookup(ctx, tx, table)
		if err != nil {
			return err
		}
		if ok {
			ok, err = b.exists(ctx, tx, table, id)
			if err != nil {
				return err
			}
		}
		if !ok {
			return errors.Wrapf(ErrRecordNotFound, "table %s id %v", table, id)
		}

		stmt := fmt.Sprintf("UPDATE %s SET data = ? WHERE id = ?", b.dialect.ident(table))
		if _, err := tx.ExecContext(ctx, stmt, data, id); err != nil {
			return errors.Wrapf(err, "update %s failed", table)
		}
		return nil
	})
}

func (b *SQLBackend) Get(ctx context.Context, table string, id any) (string, bool, error) {
	_, _, ok, err := b.lookup(ctx, b.db, table)
	if err != nil || !ok {
		return "", false, err
	}

	var data string
	err = b.db.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", b.dialect.ident(table)), id).Scan(&data)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get from %s failed", table)
	}
	return data, true, nil
}

func (b *SQLBackend) Scan(ctx context.Context, table string) ([]Row, error) {
	kind, _, ok, err := b.lookup(ctx, b.db, table)
	if err != nil || !ok {
		return nil, err
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf("SELECT id, data FROM %s ORDER BY id", b.dialect.ident(table)))
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s failed", table)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var row Row
		if kind == IDInteger {
			var id int64
			if err := rows.Scan(&id, &row.Data); err != nil {
				return nil, errors.Wrap(err, "rows.Scan failed")
			}
			row.ID = id
		} else {
			var id string
			if err := rows.Scan(&id, &row.Data); err != nil {
				return nil, errors.Wrap(err, "rows.Scan failed")
			}
			row.ID = id
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "rows.Err")
}

func (b *SQLBackend) Delete(ctx context.Context, table string, id any) error {
	_, _, ok, err := b.lookup(ctx, b.db, table)
	if err != nil || !ok {
		return err
	}

	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", b.dialect.ident(table)), id); err != nil {
		return errors.Wrapf(err, "delete from %s failed", table)
	}
	return nil
}

func (b *SQLBackend) Reset(ctx context.Context) error {
	tables, err := b.Tables(ctx)
	if err != nil {
		return err
	}

	for _, table := range sortedNames(tables) {
		if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", b.dialect.ident(table))); err != nil {
			return errors.Wrapf(err, "drop table %s failed", table)
		}
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", b.meta)); err != nil {
		return errors.Wrap(err, "clear meta table failed")
	}
	return nil
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}

func (b *SQLBackend) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "db.BeginTx failed")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "tx.Commit failed")
}
