package model

import "time"

// ApprovalStatus — статус решения одного согласующего.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalRequest — решение одного согласующего по документу.
// Хранится в таблице approval_requests; pending → approved/rejected ровно один раз.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	DocumentID  string         `json:"document_id"`
	ApproverID  string         `json:"approver_id"`
	RequestedBy string         `json:"requested_by"`
	Status      ApprovalStatus `json:"approval_status"`
	// Message — сообщение инициатора согласования
	Message string `json:"message,omitempty"`
	// Comments — комментарий согласующего
	Comments    string     `json:"comments,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
