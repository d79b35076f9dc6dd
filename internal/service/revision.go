package service

import (
	"context"
	"fmt"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// CreateRevision загружает новую версию документа parentID.
//
// Родитель должен быть активной текущей версией цепочки. Новая версия
// наследует контекст, видимость, теги и владельца родителя (поля meta
// переопределяют их), получает номер parent+1 и статус draft. Снятие
// флага текущей версии у родителя, вставка новой версии и ревизии
// выполняются в одной транзакции.
func (s *DocumentService) CreateRevision(ctx context.Context, caller model.Caller, parentID string, data []byte, meta model.FileMeta, notes model.ChangeNotes) (*UploadResult, error) {
	switch notes.RevisionType {
	case "":
		notes.RevisionType = model.RevisionMinor
	case model.RevisionMinor, model.RevisionMajor:
	default:
		return nil, validationf("недопустимый тип ревизии %q", notes.RevisionType)
	}

	parent, err := s.docs.loadVisible(ctx, caller, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsCurrentVersion {
		return nil, fmt.Errorf("%w: документ %s не является текущей версией", ErrConflict, parentID)
	}

	if meta.Visibility == "" {
		meta.Visibility = parent.Visibility
	}
	if meta.Tags == nil {
		meta.Tags = append([]string(nil), parent.Tags...)
	}
	if meta.OwnerID == "" {
		meta.OwnerID = parent.OwnerID
	}
	if meta.DisplayName == "" && meta.OriginalName == "" {
		meta.OriginalName = parent.DisplayName
	}

	uc := model.UploadContext{
		Category:     parent.Category,
		Type:         parent.Type,
		ProcessStage: parent.ProcessStage,
		EntityRefs:   parent.EntityRefs,
		Version:      parent.VersionNumber + 1,
	}

	return s.upload(ctx, caller, uploadInput{
		data:   data,
		meta:   meta,
		uc:     uc,
		parent: parent,
		notes:  &notes,
	})
}
