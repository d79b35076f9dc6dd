package model

import "time"

// RevisionType — тип ревизии.
type RevisionType string

const (
	RevisionMinor RevisionType = "minor"
	RevisionMajor RevisionType = "major"
)

// Revision — метаданные перехода от одной версии документа к следующей.
// Создаётся атомарно с новой версией, после этого не изменяется.
type Revision struct {
	ID string `json:"id"`
	// DocumentID — ID новой версии
	DocumentID         string       `json:"document_id"`
	RevisionNumber     int          `json:"revision_number"`
	RevisionType       RevisionType `json:"revision_type"`
	ChangesDescription string       `json:"changes_description,omitempty"`
	// CostImpact — влияние на стоимость (денежная сумма, может отсутствовать)
	CostImpact *float64 `json:"cost_impact,omitempty"`
	// TimelineImpact — влияние на сроки в днях
	TimelineImpact  *int      `json:"timeline_impact,omitempty"`
	RequiresRequote bool      `json:"requires_requote"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// ChangeNotes — описание изменений, передаваемое при создании ревизии.
type ChangeNotes struct {
	RevisionType       RevisionType `json:"revision_type"`
	ChangesDescription string       `json:"changes_description"`
	CostImpact         *float64     `json:"cost_impact,omitempty"`
	TimelineImpact     *int         `json:"timeline_impact,omitempty"`
	RequiresRequote    bool         `json:"requires_requote"`
}
