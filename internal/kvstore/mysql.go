package kvstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "XOS-Runner/internal/errors"
)

// MySQLConfig 描述 MySQL 存储的连接参数。
type MySQLConfig struct {
	DSN             string
	Namespace       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MySQLStore 在 kv_entries 表中按 (namespace, k) 保存条目。
type MySQLStore struct {
	db        *sql.DB
	namespace string
}

// NewMySQLStore 打开连接并执行表结构迁移。
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := newMySQLStore(ctx, db, cfg.Namespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newMySQLStore(ctx context.Context, db *sql.DB, namespace string) (*MySQLStore, error) {
	if namespace == "" {
		namespace = "default"
	}
	if err := runMigrations(ctx, db, embeddedMigrations); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 kv_entries 表失败")
	}
	return &MySQLStore{db: db, namespace: namespace}, nil
}

func openDatabase(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

// Get 实现 Store。
func (s *MySQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM kv_entries WHERE namespace = ? AND k = ?`, s.namespace, key).Scan(&v)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 kv_entries 失败")
	}
	return v, true, nil
}

// Put 实现 Store。
func (s *MySQLStore) Put(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		`REPLACE INTO kv_entries (namespace, k, v, updated_at) VALUES (?, ?, ?, ?)`,
		s.namespace, key, value, time.Now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 kv_entries 失败")
	}
	return nil
}

// Flush 对 MySQL 无需操作。
func (s *MySQLStore) Flush(context.Context) error { return nil }

// Close 关闭连接池。
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
