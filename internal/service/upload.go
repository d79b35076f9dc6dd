package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/document-module/internal/domain/approval"
	"github.com/bigkaa/goartstore/document-module/internal/domain/checksum"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/domain/naming"
	"github.com/bigkaa/goartstore/document-module/internal/permission"
	"github.com/bigkaa/goartstore/document-module/internal/repository"
)

// maxRenameAttempts — предел подбора свободного имени при OnConflict=rename.
const maxRenameAttempts = 100

// Пределы длины полей, совпадающие со столбцами таблицы documents.
const (
	maxNameLen    = 255
	maxContextLen = 100
)

// fieldLimit — значение поля и предел его длины в символах.
type fieldLimit struct {
	name  string
	value string
	limit int
}

// checkFieldLengths отклоняет поля, которые не поместятся в столбцы,
// до записи объекта в хранилище.
func checkFieldLengths(meta model.FileMeta, uc model.UploadContext) error {
	fields := []fieldLimit{
		{"original_name", meta.OriginalName, maxNameLen},
		{"display_name", meta.DisplayName, maxNameLen},
		{"mime_type", meta.MimeType, maxNameLen},
		{"owner_id", meta.OwnerID, maxNameLen},
		{"category", uc.Category, maxContextLen},
		{"type", uc.Type, maxContextLen},
		{"process_stage", uc.ProcessStage, maxContextLen},
		{"customer_id", deref(uc.EntityRefs.CustomerID), maxNameLen},
		{"order_id", deref(uc.EntityRefs.OrderID), maxNameLen},
		{"collection_id", deref(uc.EntityRefs.CollectionID), maxNameLen},
		{"project_id", deref(uc.EntityRefs.ProjectID), maxNameLen},
		{"item_id", deref(uc.EntityRefs.ItemID), maxNameLen},
	}
	for _, f := range fields {
		if n := utf8.RuneCountInString(f.value); n > f.limit {
			return validationf("поле %s длиннее %d символов (%d)", f.name, f.limit, n)
		}
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// UploadResult — результат загрузки документа.
type UploadResult struct {
	Document *model.Document
	// URL — ссылка на содержимое; пусто, если бэкенд не смог её выдать
	URL string
	// Approvals — созданные запросы согласования
	Approvals []*model.ApprovalRequest
	// Revision — ревизия, если загружена новая версия
	Revision *model.Revision
}

// BatchItem — результат одного файла пакетной загрузки.
type BatchItem struct {
	Result *UploadResult
	Err    error
}

// uploadInput — вход общего конвейера загрузки.
type uploadInput struct {
	data []byte
	meta model.FileMeta
	uc   model.UploadContext
	opts model.UploadOptions

	// parent и notes заданы для новой версии документа
	parent *model.Document
	notes  *model.ChangeNotes
}

// Upload загружает документ.
//
// Поток:
//  1. Валидация входа
//  2. Права, лимит размера и квота
//  3. SHA-256 и проверка дубликата среди активных документов
//  4. Имя файла и ключ хранилища, политика конфликта пути
//  5. Запись объекта в хранилище
//  6. Транзакция: документ (+ запросы согласования)
//  7. Журнал доступа, ссылка на содержимое
//
// Ошибка после шага 5 удаляет записанный объект.
func (s *DocumentService) Upload(ctx context.Context, caller model.Caller, data []byte, meta model.FileMeta, uc model.UploadContext, opts model.UploadOptions) (*UploadResult, error) {
	return s.upload(ctx, caller, uploadInput{data: data, meta: meta, uc: uc, opts: opts})
}

// UploadMultiple загружает файлы последовательно. Содержимое файла читается
// перед его загрузкой, в памяти одновременно не больше одного файла.
// Результаты независимы: ошибка одного файла не отменяет остальные.
func (s *DocumentService) UploadMultiple(ctx context.Context, caller model.Caller, files []model.UploadFile, opts model.UploadOptions) []BatchItem {
	items := make([]BatchItem, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			items = append(items, BatchItem{Err: err})
			continue
		}
		data, err := readUploadFile(f)
		if err != nil {
			items = append(items, BatchItem{Err: err})
			continue
		}
		res, err := s.Upload(ctx, caller, data, f.Meta, f.Context, opts)
		items = append(items, BatchItem{Result: res, Err: err})
	}
	return items
}

// readUploadFile читает содержимое файла пакета целиком.
func readUploadFile(f model.UploadFile) ([]byte, error) {
	if f.Open == nil {
		return nil, validationf("нет содержимого файла %q", f.Meta.OriginalName)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, validationf("открытие файла %q: %s", f.Meta.OriginalName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, validationf("чтение файла %q: %s", f.Meta.OriginalName, err)
	}
	return data, nil
}

func (s *DocumentService) upload(ctx context.Context, caller model.Caller, in uploadInput) (*UploadResult, error) {
	kind := "document"
	if in.parent != nil {
		kind = "revision"
	}

	res, err := s.runUpload(ctx, caller, in)
	switch {
	case err == nil:
		uploadsTotal.WithLabelValues(kind, "created").Inc()
	case errors.Is(err, ErrDuplicate):
		uploadsTotal.WithLabelValues(kind, "duplicate").Inc()
	default:
		uploadsTotal.WithLabelValues(kind, "error").Inc()
	}
	return res, err
}

func (s *DocumentService) runUpload(ctx context.Context, caller model.Caller, in uploadInput) (*UploadResult, error) {
	// 1. Валидация
	if len(in.data) == 0 {
		return nil, validationf("пустой файл")
	}
	if strings.TrimSpace(in.meta.OriginalName) == "" {
		return nil, validationf("не указано имя файла")
	}
	if err := checkFieldLengths(in.meta, in.uc); err != nil {
		return nil, err
	}
	visibility, ok := model.ParseVisibility(string(in.meta.Visibility))
	if !ok {
		return nil, validationf("недопустимая видимость %q", in.meta.Visibility)
	}
	policy, err := parseConflictPolicy(in.opts.OnConflict)
	if err != nil {
		return nil, err
	}
	var approvers []string
	if in.opts.RequestReview && len(in.opts.ApproverIDs) > 0 {
		if approvers, err = approval.ValidateApprovers(in.opts.ApproverIDs); err != nil {
			return nil, validationf("%s", err)
		}
	}

	// 2. Права, размер, квота
	perms, err := s.gate.Permissions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	size := int64(len(in.data))
	if err := permission.CheckAccess(perms); err != nil {
		return nil, err
	}
	if limit := permission.MaxUploadSize(perms, s.opts.MaxUploadSize); limit > 0 && size > limit {
		return nil, validationf("размер файла %s превышает лимит %s",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(limit)))
	}
	if err := permission.CheckUpload(perms, size); err != nil {
		return nil, err
	}

	// 3. Дедупликация до записи в хранилище
	sum := checksum.Compute(in.data)
	repos := s.docs.store.Repos()
	existing, err := repos.Documents.FindByChecksum(ctx, sum)
	switch {
	case err == nil:
		return nil, &DuplicateError{Existing: existing}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("поиск по checksum: %w", err)
	}

	// 4. Имя и путь
	now := s.now().UTC()
	uc := in.uc
	if uc.Timestamp.IsZero() {
		uc.Timestamp = now
	}
	if uc.Version < 1 {
		uc.Version = 1
	}
	fileName := naming.GenerateFileName(uc, in.meta.OriginalName)
	key, err := s.resolveKey(ctx, naming.GeneratePath(uc, fileName), policy)
	if err != nil {
		return nil, err
	}
	fileName = path.Base(key)

	mimeType := in.meta.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(in.meta.OriginalName))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// 5. Запись объекта
	stored, err := s.storage.Upload(ctx, key, bytes.NewReader(in.data), size, mimeType)
	if err != nil {
		s.logger.Error("Ошибка записи объекта",
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	doc := s.newDocument(caller, in, uc, visibility, sum, fileName, mimeType, size, stored.Path)
	result := &UploadResult{Document: doc}

	// 6. Транзакция метаданных
	err = s.docs.store.InTx(ctx, func(r repository.Repos) error {
		if in.parent != nil {
			if err := r.Documents.ClearCurrent(ctx, in.parent.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("%w: версия %s уже не текущая", ErrConflict, in.parent.ID)
				}
				return err
			}
		}
		if err := r.Documents.Insert(ctx, doc); err != nil {
			return err
		}
		if in.parent != nil {
			rev := newRevision(doc, in.notes, caller.UserID, now)
			if err := r.Revisions.Insert(ctx, rev); err != nil {
				return err
			}
			result.Revision = rev
		}
		if len(approvers) == 0 {
			return nil
		}
		if err := approval.Transition(doc.Status, model.StatusPendingReview); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
		}
		reqs := newApprovalRequests(doc.ID, approvers, caller.UserID, in.opts.ReviewMessage, in.opts.ReviewDeadline, now)
		if err := r.Approvals.InsertBatch(ctx, reqs); err != nil {
			return err
		}
		if err := r.Documents.SetStatus(ctx, doc.ID, model.StatusPendingReview); err != nil {
			return err
		}
		doc.Status = model.StatusPendingReview
		result.Approvals = reqs
		return nil
	})
	if err != nil {
		return nil, s.abortUpload(ctx, stored.Path, policy, sum, err)
	}

	// 7. Кэш, журнал, ссылка
	if in.parent != nil {
		s.docs.invalidate(ctx, in.parent.ID)
	}
	s.audit.Record(ctx, doc.ID, caller, model.AccessUpload)
	uploadedBytesTotal.Add(float64(size))

	result.URL = s.resolveURL(ctx, doc, in.opts.URLExpiresIn)

	s.logger.Info("Документ загружен",
		slog.String("document_id", doc.ID),
		slog.String("path", doc.StoragePath),
		slog.String("checksum", doc.Checksum),
		slog.Int64("size", doc.SizeBytes),
		slog.Int("version", doc.VersionNumber),
		slog.String("status", string(doc.Status)),
		slog.String("user_id", caller.UserID),
	)
	return result, nil
}

// resolveKey применяет политику конфликта пути.
func (s *DocumentService) resolveKey(ctx context.Context, key string, policy model.ConflictPolicy) (string, error) {
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	if !exists {
		return key, nil
	}

	switch policy {
	case model.ConflictOverwrite:
		// Перезаписывается только объект, не принадлежащий активному документу
		owner, err := s.docs.store.Repos().Documents.FindByPath(ctx, key)
		switch {
		case err == nil:
			return "", fmt.Errorf("%w: путь %s принадлежит документу %s", ErrConflict, key, owner.ID)
		case !errors.Is(err, repository.ErrNotFound):
			return "", fmt.Errorf("поиск владельца пути: %w", err)
		}
		return key, nil
	case model.ConflictRename:
		for n := 2; n <= maxRenameAttempts; n++ {
			candidate := naming.WithSuffix(key, n)
			exists, err := s.storage.Exists(ctx, candidate)
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrStorageRead, err)
			}
			if !exists {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("%w: не удалось подобрать свободное имя для %s", ErrConflict, key)
	default:
		return "", fmt.Errorf("%w: путь %s уже занят", ErrConflict, key)
	}
}

// abortUpload удаляет записанный объект после неудачной транзакции и
// приводит ошибку к таксономии сервиса. Объект остаётся при overwrite и
// при конфликте пути: ключ уже принадлежит другому документу.
func (s *DocumentService) abortUpload(ctx context.Context, key string, policy model.ConflictPolicy, sum string, txErr error) error {
	if policy != model.ConflictOverwrite && !errors.Is(txErr, repository.ErrPathConflict) {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.logger.Warn("Не удалось удалить объект после отката",
				slog.String("path", key),
				slog.String("error", err.Error()),
			)
		}
	}

	switch {
	case errors.Is(txErr, repository.ErrDuplicateChecksum):
		// Параллельная загрузка того же содержимого успела раньше
		winner, err := s.docs.store.Repos().Documents.FindByChecksum(ctx, sum)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDuplicate, txErr)
		}
		return &DuplicateError{Existing: winner}
	case errors.Is(txErr, repository.ErrChainConflict), errors.Is(txErr, repository.ErrPathConflict):
		return fmt.Errorf("%w: %w", ErrConflict, txErr)
	case errors.Is(txErr, ErrConflict), errors.Is(txErr, ErrInvalidTransition):
		return txErr
	}
	return mapRepoErr("сохранение документа", txErr)
}

// resolveURL возвращает ссылку на содержимое: подписанную для restricted,
// иначе публичную, с откатом на подписанную. Ошибка ссылки не отменяет загрузку.
func (s *DocumentService) resolveURL(ctx context.Context, doc *model.Document, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = s.opts.SignedURLTTL
	}
	opts := storageURLOptions(doc, ttl)
	if doc.Visibility == model.VisibilityPublic {
		opts.Signed = false
		if u, err := s.storage.GetURL(ctx, doc.StoragePath, opts); err == nil {
			return u
		}
		opts.Signed = true
	}
	u, err := s.storage.GetURL(ctx, doc.StoragePath, opts)
	if err != nil {
		s.logger.Warn("Не удалось получить ссылку на документ",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return u
}

// newDocument формирует строку документа.
func (s *DocumentService) newDocument(caller model.Caller, in uploadInput, uc model.UploadContext, visibility model.Visibility, sum, fileName, mimeType string, size int64, key string) *model.Document {
	id := uuid.New().String()

	displayName := in.meta.DisplayName
	if displayName == "" {
		displayName = in.meta.OriginalName
	}
	owner := in.meta.OwnerID
	if owner == "" {
		owner = caller.UserID
	}
	tags := in.meta.Tags
	if tags == nil {
		tags = []string{}
	}

	doc := &model.Document{
		ID:               id,
		Checksum:         sum,
		FileName:         fileName,
		DisplayName:      displayName,
		FileType:         naming.FileType(in.meta.OriginalName),
		MimeType:         mimeType,
		SizeBytes:        size,
		StorageProvider:  s.storage.Provider(),
		StorageBucket:    s.storage.Bucket(),
		StoragePath:      key,
		Category:         uc.Category,
		Type:             uc.Type,
		ProcessStage:     uc.ProcessStage,
		Visibility:       visibility,
		Status:           model.StatusDraft,
		Tags:             tags,
		EntityRefs:       uc.EntityRefs,
		VersionNumber:    uc.Version,
		IsCurrentVersion: true,
		RootDocumentID:   id,
		State:            model.StateActive,
		CreatedBy:        caller.UserID,
		OwnerID:          owner,
	}
	if in.parent != nil {
		parentID := in.parent.ID
		doc.ParentDocumentID = &parentID
		doc.RootDocumentID = in.parent.RootDocumentID
	}
	return doc
}

// newRevision формирует ревизию для новой версии документа.
func newRevision(doc *model.Document, notes *model.ChangeNotes, createdBy string, now time.Time) *model.Revision {
	rev := &model.Revision{
		ID:             uuid.New().String(),
		DocumentID:     doc.ID,
		RevisionNumber: doc.VersionNumber,
		RevisionType:   model.RevisionMinor,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	}
	if notes != nil {
		if notes.RevisionType != "" {
			rev.RevisionType = notes.RevisionType
		}
		rev.ChangesDescription = notes.ChangesDescription
		rev.CostImpact = notes.CostImpact
		rev.TimelineImpact = notes.TimelineImpact
		rev.RequiresRequote = notes.RequiresRequote
	}
	return rev
}

// newApprovalRequests создаёт по одному ожидающему запросу на согласующего.
func newApprovalRequests(documentID string, approvers []string, requestedBy, message string, deadline *time.Time, now time.Time) []*model.ApprovalRequest {
	reqs := make([]*model.ApprovalRequest, 0, len(approvers))
	for _, approverID := range approvers {
		reqs = append(reqs, &model.ApprovalRequest{
			ID:          uuid.New().String(),
			DocumentID:  documentID,
			ApproverID:  approverID,
			RequestedBy: requestedBy,
			Status:      model.ApprovalPending,
			Message:     message,
			Deadline:    deadline,
			CreatedAt:   now,
		})
	}
	return reqs
}

// parseConflictPolicy — пустая политика трактуется как reject.
func parseConflictPolicy(p model.ConflictPolicy) (model.ConflictPolicy, error) {
	switch p {
	case "":
		return model.ConflictReject, nil
	case model.ConflictReject, model.ConflictOverwrite, model.ConflictRename:
		return p, nil
	default:
		return "", validationf("недопустимая политика конфликта %q", p)
	}
}
