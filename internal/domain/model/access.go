package model

import "time"

// AccessType — тип события доступа.
type AccessType string

const (
	AccessUpload   AccessType = "upload"
	AccessView     AccessType = "view"
	AccessDownload AccessType = "download"
	AccessShare    AccessType = "share"
	AccessDelete   AccessType = "delete"
)

// AccessLogEntry — неизменяемый факт журнала доступа.
type AccessLogEntry struct {
	ID           int64      `json:"id"`
	DocumentID   string     `json:"document_id"`
	AccessedBy   string     `json:"accessed_by"`
	AccessType   AccessType `json:"access_type"`
	AccessMethod string     `json:"access_method"`
	AccessedAt   time.Time  `json:"accessed_at"`
}

// Caller — идентичность вызывающего, полученная от внешнего IdP.
type Caller struct {
	// UserID — sub из токена
	UserID string
	// IsAdmin — административная роль у IdP
	IsAdmin bool
	// AccessMethod — канал доступа для журнала (api, web, service)
	AccessMethod string
}

// Permissions — права пользователя из внешнего сервиса прав.
// Модуль их не хранит, только читает.
type Permissions struct {
	CanAccess       bool     `json:"can_access"`
	CanUpload       bool     `json:"can_upload"`
	CanDownload     bool     `json:"can_download"`
	CanDelete       bool     `json:"can_delete"`
	CanApprove      bool     `json:"can_approve"`
	CanShare        bool     `json:"can_share"`
	MaxUploadSizeMB *int64   `json:"max_upload_size_mb"`
	StorageQuotaGB  *float64 `json:"storage_quota_gb"`
	StorageUsedGB   float64  `json:"storage_used_gb"`
	IsExpired       bool     `json:"is_expired"`
}
