// shares.go — обработчик выдачи доступа к документам.
package handlers

import (
	"net/http"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

// shareBody — тело POST /api/v1/shares.
type shareBody struct {
	DocumentIDs []string `json:"document_ids"`
	UserIDs     []string `json:"user_ids"`
}

// shareResponse — результат выдачи доступа.
type shareResponse struct {
	Granted []model.Share `json:"granted"`
	// Existing — пары, у которых доступ уже был
	Existing int `json:"existing"`
}

// ShareDocuments обрабатывает POST /api/v1/shares.
// Выдаёт каждому пользователю доступ к каждому документу; повторная
// выдача не ошибка.
func (h *APIHandler) ShareDocuments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var body shareBody
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.docs.ShareDocument(r.Context(), caller, body.DocumentIDs, body.UserIDs)
	if err != nil {
		h.writeServiceError(w, r, "share", err)
		return
	}
	granted := res.Granted
	if granted == nil {
		granted = []model.Share{}
	}
	writeJSON(w, http.StatusOK, shareResponse{Granted: granted, Existing: res.Existing})
}
