package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/document-module/internal/cache"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/permission"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
	"github.com/bigkaa/goartstore/document-module/internal/storage"
)

// Store — хранилище метаданных: репозитории вне транзакции и
// выполнение в одной транзакции. Реализуется repository.Store.
type Store interface {
	Repos() repository.Repos
	InTx(ctx context.Context, fn func(r repository.Repos) error) error
}

// Deps — зависимости сервисов документов.
type Deps struct {
	Store   Store
	Storage storage.Adapter
	Gate    *permission.Gate
	Cache   cache.DocumentCache
	Audit   *AuditLog
}

// Options — параметры сервиса документов.
type Options struct {
	// MaxUploadSize — лимит размера файла, если в правах он не задан
	MaxUploadSize int64
	// SignedURLTTL — TTL подписанной ссылки по умолчанию
	SignedURLTTL time.Duration
}

// Пагинация поиска.
const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 200
)

// DocumentService — загрузка, чтение, поиск, удаление и выдача доступа
// к документам, а также ревизии (revision.go).
type DocumentService struct {
	docs    docAccess
	storage storage.Adapter
	gate    *permission.Gate
	audit   *AuditLog
	opts    Options
	now     func() time.Time
	logger  *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(deps Deps, opts Options, logger *slog.Logger) *DocumentService {
	l := logger.With(slog.String("component", "document_service"))
	return &DocumentService{
		docs:    docAccess{store: deps.Store, cache: deps.Cache, logger: l},
		storage: deps.Storage,
		gate:    deps.Gate,
		audit:   deps.Audit,
		opts:    opts,
		now:     time.Now,
		logger:  l,
	}
}

// SearchFilters — фильтры поиска документов (nil — без ограничения).
type SearchFilters struct {
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
	Tags         []string
	// IncludeHistory — включать не текущие версии
	IncludeHistory bool
}

// SearchResult — страница результатов поиска.
type SearchResult struct {
	Items  []*model.Document
	Total  int
	Limit  int
	Offset int
}

// GetDocument возвращает активный документ и пишет событие view.
func (s *DocumentService) GetDocument(ctx context.Context, caller model.Caller, id string) (*model.Document, error) {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}

	doc, err := s.docs.loadVisible(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, doc.ID, caller, model.AccessView)
	return doc, nil
}

// SearchDocuments ищет активные документы. query — подстрока имени.
// Restricted-документы видны только владельцу, автору, получателям
// выдачи и администраторам.
func (s *DocumentService) SearchDocuments(ctx context.Context, caller model.Caller, query string, f SearchFilters, limit, offset int) (*SearchResult, error) {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	filters := repository.DocumentFilters{
		Category:     f.Category,
		Type:         f.Type,
		ProcessStage: f.ProcessStage,
		Status:       f.Status,
		Visibility:   f.Visibility,
		CustomerID:   f.CustomerID,
		OrderID:      f.OrderID,
		CollectionID: f.CollectionID,
		ProjectID:    f.ProjectID,
		ItemID:       f.ItemID,
		OwnerID:      f.OwnerID,
		Tags:         f.Tags,
		CurrentOnly:  !f.IncludeHistory,
	}
	if query != "" {
		filters.Query = &query
	}
	if !caller.IsAdmin {
		viewer := caller.UserID
		filters.ViewerID = &viewer
	}

	repos := s.docs.store.Repos()
	items, err := repos.Documents.Search(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("поиск документов: %w", err)
	}
	total, err := repos.Documents.Count(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("подсчёт документов: %w", err)
	}
	if items == nil {
		items = []*model.Document{}
	}

	return &SearchResult{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// DeleteDocument выполняет soft delete. Если удаляется текущая версия,
// текущей становится старшая из оставшихся активных версий цепочки.
// Объект в хранилище сохраняется.
func (s *DocumentService) DeleteDocument(ctx context.Context, caller model.Caller, id string) error {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return err
	}

	doc, err := s.docs.load(ctx, id)
	if err != nil {
		return err
	}
	if err := permission.CheckDelete(perms, caller, doc); err != nil {
		return err
	}

	var promoted string
	err = s.docs.store.InTx(ctx, func(r repository.Repos) error {
		locked, err := r.Documents.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if locked.IsDeleted() {
			return repository.ErrNotFound
		}
		if err := r.Documents.SoftDelete(ctx, id, caller.UserID); err != nil {
			return err
		}
		if !locked.IsCurrentVersion {
			return nil
		}
		promoted, err = r.Documents.PromoteLatest(ctx, locked.RootDocumentID)
		if errors.Is(err, repository.ErrNotFound) {
			// Удалена последняя активная версия цепочки
			return nil
		}
		return err
	})
	if err != nil {
		return mapRepoErr("удаление документа", err)
	}

	s.docs.invalidate(ctx, id, promoted)
	s.audit.Record(ctx, id, caller, model.AccessDelete)

	s.logger.Info("Документ удалён",
		slog.String("document_id", id),
		slog.String("user_id", caller.UserID),
		slog.String("promoted_id", promoted),
	)
	return nil
}

// ShareResult — итог выдачи доступа.
type ShareResult struct {
	// Granted — созданные выдачи (повторные не учитываются)
	Granted []model.Share
	// Existing — количество уже существовавших выдач
	Existing int
}

// ShareDocument выдаёт пользователям userIDs доступ к документам documentIDs.
// Выдача атомарна: либо все пары, либо ни одной.
func (s *DocumentService) ShareDocument(ctx context.Context, caller model.Caller, documentIDs, userIDs []string) (*ShareResult, error) {
	documentIDs = dedupe(documentIDs)
	userIDs = dedupe(userIDs)
	if len(documentIDs) == 0 {
		return nil, validationf("список документов пуст")
	}
	if len(userIDs) == 0 {
		return nil, validationf("список пользователей пуст")
	}

	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckShare(perms); err != nil {
		return nil, err
	}

	for _, id := range documentIDs {
		if _, err := s.docs.loadVisible(ctx, caller, id); err != nil {
			return nil, err
		}
	}

	result := &ShareResult{}
	err = s.docs.store.InTx(ctx, func(r repository.Repos) error {
		result.Granted = result.Granted[:0]
		result.Existing = 0
		for _, docID := range documentIDs {
			for _, userID := range userIDs {
				share := model.Share{DocumentID: docID, UserID: userID, SharedBy: caller.UserID}
				created, err := r.Shares.Grant(ctx, &share)
				if err != nil {
					return err
				}
				if created {
					result.Granted = append(result.Granted, share)
				} else {
					result.Existing++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapRepoErr("выдача доступа", err)
	}

	for _, docID := range documentIDs {
		s.audit.Record(ctx, docID, caller, model.AccessShare)
	}
	return result, nil
}

// SignedURL — подписанная ссылка на содержимое документа.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// GetSignedURL выдаёт подписанную ссылку на скачивание и пишет событие download.
// expiresIn <= 0 — TTL по умолчанию.
func (s *DocumentService) GetSignedURL(ctx context.Context, caller model.Caller, id string, expiresIn time.Duration) (*SignedURL, error) {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckDownload(perms); err != nil {
		return nil, err
	}

	doc, err := s.docs.loadVisible(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	if expiresIn <= 0 {
		expiresIn = s.opts.SignedURLTTL
	}
	u, err := s.storage.GetURL(ctx, doc.StoragePath, storageURLOptions(doc, expiresIn))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}

	s.audit.Record(ctx, doc.ID, caller, model.AccessDownload)
	return &SignedURL{URL: u, ExpiresAt: s.now().Add(expiresIn).UTC()}, nil
}

// storageURLOptions — подписанная ссылка с именем файла для скачивания.
func storageURLOptions(doc *model.Document, ttl time.Duration) storage.URLOptions {
	return storage.URLOptions{Signed: true, ExpiresIn: ttl, DownloadName: doc.DisplayName}
}

// Versions — цепочка версий документа с ревизиями.
type Versions struct {
	Versions  []*model.Document
	Revisions []*model.Revision
}

// ListVersions возвращает активные версии цепочки документа, новые первыми.
func (s *DocumentService) ListVersions(ctx context.Context, caller model.Caller, id string) (*Versions, error) {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}

	doc, err := s.docs.loadVisible(ctx, caller, id)
	if err != nil {
		return nil, err
	}

	repos := s.docs.store.Repos()
	versions, err := repos.Documents.ListVersions(ctx, doc.RootDocumentID)
	if err != nil {
		return nil, fmt.Errorf("версии документа: %w", err)
	}
	revisions, err := repos.Revisions.ListByChain(ctx, doc.RootDocumentID)
	if err != nil {
		return nil, fmt.Errorf("ревизии документа: %w", err)
	}
	return &Versions{Versions: versions, Revisions: revisions}, nil
}

// DefaultHistoryLimit — число событий журнала по умолчанию.
const DefaultHistoryLimit = 100

// AccessHistory возвращает последние события журнала доступа документа,
// новые первыми. Журнал видят автор, владелец и администраторы.
func (s *DocumentService) AccessHistory(ctx context.Context, caller model.Caller, id string, limit int) ([]*model.AccessLogEntry, error) {
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}

	doc, err := s.docs.loadVisible(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin && !doc.IsOwnedBy(caller.UserID) {
		return nil, fmt.Errorf("%w: журнал доступен автору, владельцу и администратору", ErrPermissionDenied)
	}

	if limit <= 0 || limit > MaxSearchLimit {
		limit = DefaultHistoryLimit
	}
	entries, err := s.audit.History(ctx, doc.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("журнал доступа: %w", err)
	}
	return entries, nil
}

// docAccess — загрузка документов с кэшем и проверкой видимости.
type docAccess struct {
	store  Store
	cache  cache.DocumentCache
	logger *slog.Logger
}

// load возвращает активный документ. Удалённый документ — ErrNotFound.
func (d docAccess) load(ctx context.Context, id string) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: документ %q", ErrNotFound, id)
	}
	if doc, ok := d.cache.Get(ctx, id); ok && !doc.IsDeleted() {
		return doc, nil
	}
	doc, err := d.store.Repos().Documents.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr("получение документа", err)
	}
	if doc.IsDeleted() {
		return nil, fmt.Errorf("%w: документ %s удалён", ErrNotFound, id)
	}
	d.cache.Set(ctx, doc)
	return doc, nil
}

// loadVisible — load с проверкой видимости restricted-документа.
// Недоступный документ неотличим от отсутствующего.
func (d docAccess) loadVisible(ctx context.Context, caller model.Caller, id string) (*model.Document, error) {
	doc, err := d.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Visibility != model.VisibilityRestricted || caller.IsAdmin || doc.IsOwnedBy(caller.UserID) {
		return doc, nil
	}
	ok, err := d.store.Repos().Shares.HasAccess(ctx, doc.ID, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("проверка выдачи доступа: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: документ %s", ErrNotFound, id)
	}
	return doc, nil
}

// invalidate удаляет документы из кэша; пустые ID пропускаются.
func (d docAccess) invalidate(ctx context.Context, ids ...string) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			keys = append(keys, id)
		}
	}
	d.cache.Delete(ctx, keys...)
}

// mapRepoErr переводит ошибки репозитория в ошибки сервиса.
func mapRepoErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// dedupe убирает пустые строки и повторы, сохраняя порядок.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := make([]string, 0, len(items))
	for _, s := range items {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	return result
}
