package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// dialect 描述不同 SQL 方言的驱动名与语句。
type dialect struct {
	driver string
	schema string
	get    string
	put    string
}

var dialects = map[Type]dialect{
	TypeSQLite: {
		driver: "sqlite3",
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			store_key   CHAR(64) PRIMARY KEY,
			store_value BLOB NOT NULL,
			updated_ts  INTEGER NOT NULL
		)`,
		get: `SELECT store_value FROM kv_store WHERE store_key = ?`,
		put: `INSERT INTO kv_store (store_key, store_value, updated_ts) VALUES (?, ?, ?)
			ON CONFLICT(store_key) DO UPDATE SET store_value = excluded.store_value, updated_ts = excluded.updated_ts`,
	},
	TypePostgres: {
		driver: "postgres",
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			store_key   CHAR(64) PRIMARY KEY,
			store_value BYTEA NOT NULL,
			updated_ts  BIGINT NOT NULL
		)`,
		get: `SELECT store_value FROM kv_store WHERE store_key = $1`,
		put: `INSERT INTO kv_store (store_key, store_value, updated_ts) VALUES ($1, $2, $3)
			ON CONFLICT (store_key) DO UPDATE SET store_value = EXCLUDED.store_value, updated_ts = EXCLUDED.updated_ts`,
	},
	TypeMySQL: {
		driver: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS kv_store (
			store_key   CHAR(64) NOT NULL PRIMARY KEY,
			store_value LONGBLOB NOT NULL,
			updated_ts  BIGINT NOT NULL
		)`,
		get: `SELECT store_value FROM kv_store WHERE store_key = ?`,
		put: `INSERT INTO kv_store (store_key, store_value, updated_ts) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE store_value = VALUES(store_value), updated_ts = VALUES(updated_ts)`,
	},
}

// SQLKV 将键值对存放在单表 kv_store 中，支持 sqlite/postgres/mysql。
// store_key 列保存 key 的 SHA-256 摘要，任意长度的会话标识都不会超出列宽。
type SQLKV struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQLKV 打开数据库连接并确保表结构存在。
func OpenSQLKV(ctx context.Context, storeType Type, dsn string) (*SQLKV, error) {
	d, ok := dialects[storeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a sql store", ErrInvalidStoreType, storeType)
	}

	if storeType == TypeSQLite {
		var err error
		if dsn, err = prepareSQLiteDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", storeType, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s store: %w", storeType, err)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init %s schema: %w", storeType, err)
	}
	return &SQLKV{db: db, dialect: d}, nil
}

// prepareSQLiteDSN 创建数据库父目录，并为普通文件路径开启 WAL 与 busy timeout。
func prepareSQLiteDSN(dsn string) (string, error) {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	if dir := filepath.Dir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	return dsn, nil
}

// Get 查询 key；无记录时返回 (nil, nil)。
func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.get, hashKey(key)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put 以 upsert 覆盖写入。
func (s *SQLKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.dialect.put, hashKey(key), value, time.Now().Unix())
	return err
}

// Close 关闭数据库连接。
func (s *SQLKV) Close() error {
	return s.db.Close()
}
