// Пакет model — доменные модели Document Module:
// документы, ревизии, запросы согласования, журнал доступа и права пользователя.
package model

import "time"

// DocumentStatus — статус документа в процессе согласования.
type DocumentStatus string

const (
	// StatusDraft — черновик, согласование не запрошено.
	StatusDraft DocumentStatus = "draft"
	// StatusPendingReview — ожидает решений согласующих.
	StatusPendingReview DocumentStatus = "pending_review"
	// StatusApproved — согласован всеми согласующими.
	StatusApproved DocumentStatus = "approved"
	// StatusRejected — отклонён хотя бы одним согласующим.
	StatusRejected DocumentStatus = "rejected"
	// StatusDeleted — документ удалён (soft delete).
	StatusDeleted DocumentStatus = "deleted"
)

// LifecycleState — тег жизненного цикла записи. Все пути чтения
// фильтруют по нему явно.
type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateDeleted LifecycleState = "deleted"
)

// Visibility — видимость документа.
type Visibility string

const (
	VisibilityInternal   Visibility = "internal"
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
)

// ParseVisibility преобразует строку в Visibility.
// Пустая строка — internal.
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case "":
		return VisibilityInternal, true
	case VisibilityInternal, VisibilityPublic, VisibilityRestricted:
		return Visibility(s), true
	default:
		return "", false
	}
}

// EntityRefs — ссылки на бизнес-сущности (клиент, заказ, коллекция, проект, изделие).
// Для модуля это непрозрачные внешние идентификаторы.
type EntityRefs struct {
	CustomerID   *string `json:"customer_id,omitempty"`
	OrderID      *string `json:"order_id,omitempty"`
	CollectionID *string `json:"collection_id,omitempty"`
	ProjectID    *string `json:"project_id,omitempty"`
	ItemID       *string `json:"item_id,omitempty"`
}

// Document — логическая запись файла.
// Хранится в таблице documents.
type Document struct {
	// ID — UUID документа
	ID string `json:"id"`
	// Checksum — SHA-256 содержимого (hex), уникален среди активных документов
	Checksum string `json:"checksum"`

	// FileName — сгенерированное имя файла
	FileName string `json:"file_name"`
	// DisplayName — имя для отображения (обычно оригинальное имя файла)
	DisplayName string `json:"display_name"`
	// FileType — расширение без точки (pdf, dwg, png)
	FileType string `json:"file_type"`
	// MimeType — MIME-тип
	MimeType string `json:"mime_type"`
	// SizeBytes — размер в байтах
	SizeBytes int64 `json:"size_bytes"`

	// StorageProvider — бэкенд хранилища (s3, filesystem)
	StorageProvider string `json:"storage_provider"`
	// StorageBucket — бакет (или корневая директория)
	StorageBucket string `json:"storage_bucket"`
	// StoragePath — ключ объекта в хранилище
	StoragePath string `json:"storage_path"`

	Category     string         `json:"category,omitempty"`
	Type         string         `json:"type,omitempty"`
	ProcessStage string         `json:"process_stage,omitempty"`
	Visibility   Visibility     `json:"visibility"`
	Status       DocumentStatus `json:"status"`
	Tags         []string       `json:"tags"`

	EntityRefs

	// VersionNumber — номер версии в цепочке (с 1)
	VersionNumber int `json:"version_number"`
	// IsCurrentVersion — текущая версия цепочки
	IsCurrentVersion bool `json:"is_current_version"`
	// ParentDocumentID — предыдущая версия (nil для первой)
	ParentDocumentID *string `json:"parent_document_id,omitempty"`
	// RootDocumentID — ключ цепочки версий (ID первой версии)
	RootDocumentID string `json:"root_document_id"`

	// State — тег жизненного цикла (active, deleted)
	State LifecycleState `json:"state"`

	CreatedBy string     `json:"created_by"`
	OwnerID   string     `json:"owner_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy *string    `json:"deleted_by,omitempty"`
}

// IsDeleted сообщает, удалён ли документ.
func (d *Document) IsDeleted() bool {
	return d.State == StateDeleted
}

// IsOwnedBy проверяет, является ли пользователь автором или владельцем документа.
func (d *Document) IsOwnedBy(userID string) bool {
	return userID != "" && (d.CreatedBy == userID || d.OwnerID == userID)
}

// Share — выдача доступа к документу пользователю.
// Хранится в таблице document_shares.
type Share struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	SharedBy   string    `json:"shared_by"`
	CreatedAt  time.Time `json:"created_at"`
}
