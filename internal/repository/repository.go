// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrDuplicateChecksum — активный документ с таким checksum уже есть.
	ErrDuplicateChecksum = fmt.Errorf("%w: документ с таким содержимым", ErrConflict)
	// ErrChainConflict — у цепочки версий уже есть текущая версия.
	ErrChainConflict = fmt.Errorf("%w: текущая версия цепочки", ErrConflict)
	// ErrPathConflict — ключ хранилища занят другим активным документом.
	ErrPathConflict = fmt.Errorf("%w: ключ хранилища", ErrConflict)
)

// Имена ограничений уникальности из миграций.
const (
	constraintChecksumActive = "documents_checksum_active_uniq"
	constraintChainCurrent   = "documents_chain_current_uniq"
	constraintPathActive     = "documents_path_active_uniq"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repos — набор репозиториев, привязанных к одному DBTX.
type Repos struct {
	Documents DocumentRepository
	Revisions RevisionRepository
	Approvals ApprovalRepository
	AccessLog AccessLogRepository
	Shares    ShareRepository
}

// NewRepos создаёт набор репозиториев поверх db.
func NewRepos(db DBTX) Repos {
	return Repos{
		Documents: NewDocumentRepository(db),
		Revisions: NewRevisionRepository(db),
		Approvals: NewApprovalRepository(db),
		AccessLog: NewAccessLogRepository(db),
		Shares:    NewShareRepository(db),
	}
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Store — точка входа в хранилище метаданных: репозитории поверх пула
// и транзакционное выполнение с репозиториями поверх pgx.Tx.
type Store struct {
	repos Repos
	tx    *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{repos: NewRepos(pool), tx: NewTxRunner(pool)}
}

// Repos возвращает репозитории вне транзакции.
func (s *Store) Repos() Repos {
	return s.repos
}

// InTx выполняет fn в одной транзакции.
func (s *Store) InTx(ctx context.Context, fn func(r Repos) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// violatedConstraint возвращает имя нарушенного ограничения или "".
func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
