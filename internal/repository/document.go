package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// DocumentRepository — операции с таблицей documents.
// Чтение, кроме GetByID/GetByIDForUpdate, видит только активные документы.
type DocumentRepository interface {
	// Insert создаёт документ. Нарушение уникальности checksum —
	// ErrDuplicateChecksum, второй текущей версии цепочки — ErrChainConflict,
	// занятого ключа хранилища — ErrPathConflict.
	Insert(ctx context.Context, d *model.Document) error
	// GetByID возвращает документ по ID в любом состоянии.
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// GetByIDForUpdate — GetByID с блокировкой строки до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Document, error)
	// FindByChecksum ищет активный документ с данным содержимым.
	FindByChecksum(ctx context.Context, checksum string) (*model.Document, error)
	// FindByPath ищет активный документ, которому принадлежит ключ хранилища.
	FindByPath(ctx context.Context, storagePath string) (*model.Document, error)
	// Search возвращает активные документы по фильтрам.
	Search(ctx context.Context, f DocumentFilters, limit, offset int) ([]*model.Document, error)
	// Count возвращает количество активных документов по фильтрам.
	Count(ctx context.Context, f DocumentFilters) (int, error)
	// ListVersions возвращает активные версии цепочки, новые первыми.
	ListVersions(ctx context.Context, rootID string) ([]*model.Document, error)
	// ClearCurrent снимает флаг текущей версии. ErrNotFound, если документ
	// не активен или уже не текущий.
	ClearCurrent(ctx context.Context, id string) error
	// SetStatus меняет статус согласования активного документа.
	SetStatus(ctx context.Context, id string, status model.DocumentStatus) error
	// SoftDelete переводит документ в state=deleted.
	SoftDelete(ctx context.Context, id, deletedBy string) error
	// PromoteLatest делает текущей старшую активную версию цепочки.
	// Возвращает ID повышенной версии или ErrNotFound, если активных версий нет.
	PromoteLatest(ctx context.Context, rootID string) (string, error)
}

// DocumentFilters — фильтры поиска документов. nil — без ограничения.
type DocumentFilters struct {
	// Query — подстрока имени файла или отображаемого имени
	Query        *string
	Category     *string
	Type         *string
	ProcessStage *string
	Status       *model.DocumentStatus
	Visibility   *model.Visibility
	CustomerID   *string
	OrderID      *string
	CollectionID *string
	ProjectID    *string
	ItemID       *string
	OwnerID      *string
	// Tags — документ должен содержать все перечисленные теги
	Tags []string
	// CurrentOnly — только текущие версии цепочек
	CurrentOnly bool
	// ViewerID — скрыть restricted-документы, недоступные этому пользователю
	ViewerID *string
}

const documentColumns = `
	id, checksum, file_name, display_name, file_type, mime_type, size_bytes,
	storage_provider, storage_bucket, storage_path,
	category, type, process_stage, visibility, status, tags,
	customer_id, order_id, collection_id, project_id, item_id,
	version_number, is_current_version, parent_document_id, root_document_id,
	state, created_by, owner_id, created_at, updated_at, deleted_at, deleted_by`

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	err := row.Scan(
		&d.ID, &d.Checksum, &d.FileName, &d.DisplayName, &d.FileType, &d.MimeType, &d.SizeBytes,
		&d.StorageProvider, &d.StorageBucket, &d.StoragePath,
		&d.Category, &d.Type, &d.ProcessStage, &d.Visibility, &d.Status, &d.Tags,
		&d.CustomerID, &d.OrderID, &d.CollectionID, &d.ProjectID, &d.ItemID,
		&d.VersionNumber, &d.IsCurrentVersion, &d.ParentDocumentID, &d.RootDocumentID,
		&d.State, &d.CreatedBy, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt, &d.DeletedAt, &d.DeletedBy,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *documentRepo) Insert(ctx context.Context, d *model.Document) error {
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.State == "" {
		d.State = model.StateActive
	}
	query := `
		INSERT INTO documents (id, checksum, file_name, display_name, file_type, mime_type, size_bytes,
			storage_provider, storage_bucket, storage_path,
			category, type, process_stage, visibility, status, tags,
			customer_id, order_id, collection_id, project_id, item_id,
			version_number, is_current_version, parent_document_id, root_document_id,
			state, created_by, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Checksum, d.FileName, d.DisplayName, d.FileType, d.MimeType, d.SizeBytes,
		d.StorageProvider, d.StorageBucket, d.StoragePath,
		d.Category, d.Type, d.ProcessStage, d.Visibility, d.Status, d.Tags,
		d.CustomerID, d.OrderID, d.CollectionID, d.ProjectID, d.ItemID,
		d.VersionNumber, d.IsCurrentVersion, d.ParentDocumentID, d.RootDocumentID,
		d.State, d.CreatedBy, d.OwnerID,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			switch violatedConstraint(err) {
			case constraintChecksumActive:
				return ErrDuplicateChecksum
			case constraintChainCurrent:
				return ErrChainConflict
			case constraintPathActive:
				return ErrPathConflict
			}
			return fmt.Errorf("%w: документ %s", ErrConflict, d.ID)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	return r.getOne(ctx, `SELECT`+documentColumns+` FROM documents WHERE id = $1`, id)
}

func (r *documentRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Document, error) {
	return r.getOne(ctx, `SELECT`+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
}

func (r *documentRepo) FindByChecksum(ctx context.Context, checksum string) (*model.Document, error) {
	return r.getOne(ctx,
		`SELECT`+documentColumns+` FROM documents WHERE checksum = $1 AND state = 'active'`,
		checksum)
}

func (r *documentRepo) FindByPath(ctx context.Context, storagePath string) (*model.Document, error) {
	return r.getOne(ctx,
		`SELECT`+documentColumns+` FROM documents WHERE storage_path = $1 AND state = 'active'`,
		storagePath)
}

func (r *documentRepo) getOne(ctx context.Context, query string, args ...any) (*model.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

// buildDocumentWhere строит WHERE-условие и аргументы для поиска документов.
// Удалённые документы исключаются всегда.
func buildDocumentWhere(f DocumentFilters, startArg int) (string, []any) {
	conditions := []string{"state = 'active'"}
	var args []any
	argNum := startArg

	add := func(cond string, val any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, val)
		argNum++
	}

	if f.Query != nil && *f.Query != "" {
		add("(display_name ILIKE $%[1]d OR file_name ILIKE $%[1]d)", "%"+escapeLike(*f.Query)+"%")
	}
	if f.Category != nil {
		add("category = $%d", *f.Category)
	}
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}
	if f.ProcessStage != nil {
		add("process_stage = $%d", *f.ProcessStage)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Visibility != nil {
		add("visibility = $%d", string(*f.Visibility))
	}
	if f.CustomerID != nil {
		add("customer_id = $%d", *f.CustomerID)
	}
	if f.OrderID != nil {
		add("order_id = $%d", *f.OrderID)
	}
	if f.CollectionID != nil {
		add("collection_id = $%d", *f.CollectionID)
	}
	if f.ProjectID != nil {
		add("project_id = $%d", *f.ProjectID)
	}
	if f.ItemID != nil {
		add("item_id = $%d", *f.ItemID)
	}
	if f.OwnerID != nil {
		add("owner_id = $%d", *f.OwnerID)
	}
	if len(f.Tags) > 0 {
		add("tags @> $%d", f.Tags)
	}
	if f.CurrentOnly {
		conditions = append(conditions, "is_current_version")
	}
	if f.ViewerID != nil {
		add(`(visibility <> 'restricted' OR owner_id = $%[1]d OR created_by = $%[1]d
			OR EXISTS (SELECT 1 FROM document_shares s WHERE s.document_id = documents.id AND s.user_id = $%[1]d))`,
			*f.ViewerID)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *documentRepo) Search(ctx context.Context, f DocumentFilters, limit, offset int) ([]*model.Document, error) {
	where, args := buildDocumentWhere(f, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`SELECT %s FROM documents %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, documentColumns, where, argNum, argNum+1)
	args = append(args, limit, offset)

	return r.list(ctx, query, args...)
}

func (r *documentRepo) Count(ctx context.Context, f DocumentFilters) (int, error) {
	where, args := buildDocumentWhere(f, 1)
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта документов: %w", err)
	}
	return count, nil
}

func (r *documentRepo) ListVersions(ctx context.Context, rootID string) ([]*model.Document, error) {
	return r.list(ctx, `SELECT`+documentColumns+` FROM documents
		WHERE root_document_id = $1 AND state = 'active'
		ORDER BY version_number DESC`, rootID)
}

func (r *documentRepo) list(ctx context.Context, query string, args ...any) ([]*model.Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *documentRepo) ClearCurrent(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET is_current_version = FALSE
		WHERE id = $1 AND state = 'active' AND is_current_version`, id)
	if err != nil {
		return fmt.Errorf("ошибка снятия флага текущей версии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) SetStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents SET status = $2
		WHERE id = $1 AND state = 'active'`, id, string(status))
	if err != nil {
		return fmt.Errorf("ошибка обновления статуса документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) SoftDelete(ctx context.Context, id, deletedBy string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE documents
		SET state = 'deleted', status = 'deleted', is_current_version = FALSE,
			deleted_at = NOW(), deleted_by = $2
		WHERE id = $1 AND state = 'active'`, id, deletedBy)
	if err != nil {
		return fmt.Errorf("ошибка удаления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentRepo) PromoteLatest(ctx context.Context, rootID string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx, `
		UPDATE documents SET is_current_version = TRUE
		WHERE id = (
			SELECT id FROM documents
			WHERE root_document_id = $1 AND state = 'active'
			ORDER BY version_number DESC
			LIMIT 1
		)
		RETURNING id`, rootID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		if isUniqueViolation(err) {
			return "", ErrChainConflict
		}
		return "", fmt.Errorf("ошибка повышения версии: %w", err)
	}
	return id, nil
}
