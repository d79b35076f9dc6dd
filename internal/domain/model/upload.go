package model

import (
	"io"
	"time"
)

// UploadContext — бизнес-контекст загрузки: классификация, связи с сущностями,
// коды для имени файла, версия и момент загрузки.
type UploadContext struct {
	Category     string `json:"category,omitempty"`
	Type         string `json:"type,omitempty"`
	ProcessStage string `json:"process_stage,omitempty"`

	EntityRefs

	// Коды для человекочитаемого имени файла
	CustomerCode   string `json:"customer_code,omitempty"`
	OrderNumber    string `json:"order_number,omitempty"`
	CollectionCode string `json:"collection_code,omitempty"`
	ItemSKU        string `json:"item_sku,omitempty"`

	// Version — номер версии (0 трактуется как 1)
	Version int `json:"version,omitempty"`
	// Revision — необязательный суффикс ревизии (0 — без суффикса)
	Revision int `json:"revision,omitempty"`

	// Timestamp — момент загрузки; сервис заполняет его, если не задан
	Timestamp time.Time `json:"-"`
}

// FileMeta — описание загружаемого файла.
type FileMeta struct {
	// OriginalName — имя файла у клиента
	OriginalName string
	// MimeType — MIME-тип (пусто — application/octet-stream)
	MimeType string
	// DisplayName — имя для отображения (пусто — OriginalName)
	DisplayName string
	Tags        []string
	Visibility  Visibility
	// OwnerID — владелец (пусто — загрузивший)
	OwnerID string
}

// ConflictPolicy — поведение при совпадении сгенерированного пути с существующим объектом.
type ConflictPolicy string

const (
	// ConflictReject — отказ (по умолчанию).
	ConflictReject ConflictPolicy = "reject"
	// ConflictOverwrite — перезапись объекта.
	ConflictOverwrite ConflictPolicy = "overwrite"
	// ConflictRename — добавление числового суффикса к имени.
	ConflictRename ConflictPolicy = "rename"
)

// UploadOptions — опции загрузки.
type UploadOptions struct {
	// RequestReview — запустить согласование сразу после загрузки
	RequestReview  bool
	ApproverIDs    []string
	ReviewMessage  string
	ReviewDeadline *time.Time
	OnConflict     ConflictPolicy
	// URLExpiresIn — TTL ссылки в результате (0 — значение по умолчанию)
	URLExpiresIn time.Duration
}

// UploadFile — один файл пакетной загрузки. Содержимое открывается через
// Open непосредственно перед загрузкой этого файла.
type UploadFile struct {
	Open    func() (io.ReadCloser, error)
	Meta    FileMeta
	Context UploadContext
}
