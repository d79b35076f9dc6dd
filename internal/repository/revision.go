package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// RevisionRepository — операции с таблицей revisions. Ревизии не изменяются.
type RevisionRepository interface {
	// Insert создаёт ревизию новой версии документа.
	Insert(ctx context.Context, rev *model.Revision) error
	// GetByDocument возвращает ревизию, создавшую данную версию.
	GetByDocument(ctx context.Context, documentID string) (*model.Revision, error)
	// ListByChain возвращает ревизии цепочки по возрастанию номера.
	ListByChain(ctx context.Context, rootID string) ([]*model.Revision, error)
}

type revisionRepo struct {
	db DBTX
}

// NewRevisionRepository создаёт репозиторий ревизий.
func NewRevisionRepository(db DBTX) RevisionRepository {
	return &revisionRepo{db: db}
}

const revisionColumns = `r.id, r.document_id, r.revision_number, r.revision_type, r.changes_description,
	r.cost_impact, r.timeline_impact, r.requires_requote, r.created_by, r.created_at`

func scanRevision(row pgx.Row) (*model.Revision, error) {
	rev := &model.Revision{}
	err := row.Scan(&rev.ID, &rev.DocumentID, &rev.RevisionNumber, &rev.RevisionType,
		&rev.ChangesDescription, &rev.CostImpact, &rev.TimelineImpact, &rev.RequiresRequote,
		&rev.CreatedBy, &rev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (r *revisionRepo) Insert(ctx context.Context, rev *model.Revision) error {
	query := `
		INSERT INTO revisions (id, document_id, revision_number, revision_type, changes_description,
			cost_impact, timeline_impact, requires_requote, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rev.ID, rev.DocumentID, rev.RevisionNumber, string(rev.RevisionType), rev.ChangesDescription,
		rev.CostImpact, rev.TimelineImpact, rev.RequiresRequote, rev.CreatedBy,
	).Scan(&rev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ревизия документа %s", ErrConflict, rev.DocumentID)
		}
		return fmt.Errorf("ошибка создания ревизии: %w", err)
	}
	return nil
}

func (r *revisionRepo) GetByDocument(ctx context.Context, documentID string) (*model.Revision, error) {
	rev, err := scanRevision(r.db.QueryRow(ctx,
		`SELECT `+revisionColumns+` FROM revisions r WHERE r.document_id = $1`, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ревизии: %w", err)
	}
	return rev, nil
}

func (r *revisionRepo) ListByChain(ctx context.Context, rootID string) ([]*model.Revision, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+revisionColumns+`
		FROM revisions r
		JOIN documents d ON d.id = r.document_id
		WHERE d.root_document_id = $1
		ORDER BY r.revision_number`, rootID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения ревизий: %w", err)
	}
	defer rows.Close()

	var result []*model.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ревизии: %w", err)
		}
		result = append(result, rev)
	}
	return result, rows.Err()
}
