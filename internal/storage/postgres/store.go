// Package postgres реализует хранилища заказов, каталога и служебных таблиц поверх PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает одну операцию репозитория поверх контекста вызывающего.
const opTimeout = 5 * time.Second

// SQLSTATE-коды, которые репозитории переводят в доменные ошибки.
const (
	codeUniqueViolation = "23505"
	codeCheckViolation  = "23514"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolSettings задаёт параметры пула database/sql.
type PoolSettings struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
	PingTimeout time.Duration
}

// DefaultPoolSettings подходит для одного экземпляра сервиса заказов.
func DefaultPoolSettings() PoolSettings {
	return PoolSettings{
		MaxOpen:     25,
		MaxIdle:     25,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
		PingTimeout: 5 * time.Second,
	}
}

func (p PoolSettings) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpen)
	idle := p.MaxIdle
	if idle > p.MaxOpen {
		idle = p.MaxOpen
	}
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(p.MaxLifetime)
	db.SetConnMaxIdleTime(p.MaxIdleTime)
}

// Option меняет настройки пула до открытия подключения.
type Option func(*PoolSettings)

// WithMaxConns ограничивает число открытых соединений. n<=0 игнорируется.
func WithMaxConns(n int) Option {
	return func(p *PoolSettings) {
		if n > 0 {
			p.MaxOpen = n
			p.MaxIdle = n
		}
	}
}

// WithPingTimeout задаёт таймаут проверки доступности базы.
func WithPingTimeout(d time.Duration) Option {
	return func(p *PoolSettings) {
		if d > 0 {
			p.PingTimeout = d
		}
	}
}

// Store владеет пулом соединений; репозитории получают его через конструкторы.
type Store struct {
	db   *sql.DB
	pool PoolSettings
}

// Open открывает пул pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool := DefaultPoolSettings()
	for _, opt := range opts {
		opt(&pool)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	pool.apply(db)

	s := &Store{db: db, pool: pool}
	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// DB отдаёт пул для репозиториев и мигратора.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Pool возвращает применённые настройки пула.
func (s *Store) Pool() PoolSettings {
	return s.pool
}

// Stats возвращает статистику пула соединений.
func (s *Store) Stats() sql.DBStats {
	if s == nil || s.db == nil {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

// Ping используется проверкой готовности.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	timeout := s.pool.PingTimeout
	if timeout <= 0 {
		timeout = opTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema доводит схему до последней миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул. Повторный вызов и nil-хранилище безопасны.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx выполняет fn в транзакции и откатывает её при ошибке или панике.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

func isCheckViolation(err error) bool {
	return sqlState(err) == codeCheckViolation
}
