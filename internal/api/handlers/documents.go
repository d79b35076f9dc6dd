// documents.go — обработчики документов: загрузка (одиночная и пакетная),
// поиск, чтение, удаление, ревизии, версии, ссылки и журнал доступа.
package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/document-module/internal/api/errors"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
	"github.com/bigkaa/goartstore/document-module/internal/service"
)

// Ограничения multipart-запроса.
const (
	// multipartMemory — часть формы, удерживаемая в памяти (остальное во временных файлах)
	multipartMemory = 32 << 20
	// maxBatchFiles — максимум файлов в одном запросе
	maxBatchFiles = 20
	// formOverhead — запас на заголовки и текстовые поля формы
	formOverhead = 1 << 20
)

// uploadResponse — результат загрузки одного файла.
type uploadResponse struct {
	Document  *model.Document          `json:"document"`
	URL       string                   `json:"url,omitempty"`
	Approvals []*model.ApprovalRequest `json:"approvals,omitempty"`
	Revision  *model.Revision          `json:"revision,omitempty"`
}

func toUploadResponse(res *service.UploadResult) uploadResponse {
	return uploadResponse{
		Document:  res.Document,
		URL:       res.URL,
		Approvals: res.Approvals,
		Revision:  res.Revision,
	}
}

// batchItemResponse — результат одного файла пакетной загрузки.
type batchItemResponse struct {
	FileName string `json:"file_name"`
	*uploadResponse
	Error *errorInfo `json:"error,omitempty"`
}

// batchResponse — ответ пакетной загрузки.
type batchResponse struct {
	Items     []batchItemResponse `json:"items"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// UploadDocuments обрабатывает POST /api/v1/documents.
// Multipart form: одна или несколько частей file, общий бизнес-контекст
// и опции загрузки в текстовых полях. Один файл — 201 с документом;
// несколько — 201 (все успешны) или 207 с результатом по каждому файлу.
func (h *APIHandler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	form, ok := h.parseMultipart(w, r, maxBatchFiles)
	if !ok {
		return
	}
	defer form.RemoveAll()

	headers := form.File["file"]
	if len(headers) == 0 {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	if len(headers) > maxBatchFiles {
		apierrors.ValidationError(w, fmt.Sprintf("Не более %d файлов в одном запросе", maxBatchFiles))
		return
	}

	values := url.Values(form.Value)
	uc, err := parseUploadContext(values)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	baseMeta, err := parseFileMeta(values)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	opts, err := parseUploadOptions(values)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if len(headers) == 1 {
		fh := headers[0]
		data, err := readPart(fh)
		if err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения файла %q: %s", fh.Filename, err.Error()))
			return
		}
		meta := partMeta(baseMeta, fh)
		res, err := h.docs.Upload(r.Context(), caller, data, meta, uc, opts)
		if err != nil {
			h.writeServiceError(w, r, "upload", err)
			return
		}
		writeJSON(w, http.StatusCreated, toUploadResponse(res))
		return
	}

	// Части остаются во временных файлах формы и читаются по одной
	files := make([]model.UploadFile, 0, len(headers))
	for _, fh := range headers {
		meta := partMeta(baseMeta, fh)
		// display_name относится только к одиночной загрузке
		meta.DisplayName = ""
		files = append(files, model.UploadFile{
			Open:    func() (io.ReadCloser, error) { return fh.Open() },
			Meta:    meta,
			Context: uc,
		})
	}

	items := h.docs.UploadMultiple(r.Context(), caller, files, opts)
	resp := batchResponse{Items: make([]batchItemResponse, 0, len(items))}
	for i, item := range items {
		entry := batchItemResponse{FileName: files[i].Meta.OriginalName}
		if item.Err != nil {
			info := classifyError(item.Err)
			entry.Error = &info
			resp.Failed++
		} else {
			ur := toUploadResponse(item.Result)
			entry.uploadResponse = &ur
			resp.Succeeded++
		}
		resp.Items = append(resp.Items, entry)
	}

	status := http.StatusCreated
	if resp.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// CreateRevision обрабатывает POST /api/v1/documents/{id}/revisions.
// Multipart form: file (обязательно), revision_type, changes_description,
// cost_impact, timeline_impact, requires_requote, а также display_name,
// tags и visibility для переопределения унаследованных значений.
func (h *APIHandler) CreateRevision(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	form, ok := h.parseMultipart(w, r, 1)
	if !ok {
		return
	}
	defer form.RemoveAll()

	headers := form.File["file"]
	if len(headers) != 1 {
		apierrors.ValidationError(w, "Ожидается ровно одна часть 'file'")
		return
	}
	data, err := readPart(headers[0])
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения файла: %s", err.Error()))
		return
	}

	values := url.Values(form.Value)
	meta, err := parseFileMeta(values)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	meta.OriginalName = headers[0].Filename
	meta.MimeType = headers[0].Header.Get("Content-Type")

	notes, err := parseChangeNotes(values)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.docs.CreateRevision(r.Context(), caller, id, data, meta, notes)
	if err != nil {
		h.writeServiceError(w, r, "create_revision", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUploadResponse(res))
}

// searchResponse — страница результатов поиска.
type searchResponse struct {
	Items  []*model.Document `json:"items"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// SearchDocuments обрабатывает GET /api/v1/documents.
// Параметры: q, category, type, process_stage, status, visibility,
// customer_id, order_id, collection_id, project_id, item_id, owner_id,
// tag (повторяемый), include_history, limit, offset.
func (h *APIHandler) SearchDocuments(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var (
		q              *string
		status         *string
		visibility     *string
		tags           *[]string
		includeHistory *bool
		limit          *int
		offset         *int
		f              service.SearchFilters
	)

	binds := []struct {
		name string
		dest any
	}{
		{"q", &q},
		{"category", &f.Category},
		{"type", &f.Type},
		{"process_stage", &f.ProcessStage},
		{"status", &status},
		{"visibility", &visibility},
		{"customer_id", &f.CustomerID},
		{"order_id", &f.OrderID},
		{"collection_id", &f.CollectionID},
		{"project_id", &f.ProjectID},
		{"item_id", &f.ItemID},
		{"owner_id", &f.OwnerID},
		{"tag", &tags},
		{"include_history", &includeHistory},
		{"limit", &limit},
		{"offset", &offset},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s: %s", b.name, err.Error()))
			return
		}
	}

	if status != nil {
		s := model.DocumentStatus(*status)
		switch s {
		case model.StatusDraft, model.StatusPendingReview, model.StatusApproved, model.StatusRejected:
		default:
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимый статус %q", *status))
			return
		}
		f.Status = &s
	}
	if visibility != nil {
		v, ok := model.ParseVisibility(*visibility)
		if !ok || *visibility == "" {
			apierrors.ValidationError(w, fmt.Sprintf("Недопустимая видимость %q", *visibility))
			return
		}
		f.Visibility = &v
	}
	if tags != nil {
		f.Tags = *tags
	}
	if includeHistory != nil {
		f.IncludeHistory = *includeHistory
	}

	text := ""
	if q != nil {
		text = *q
	}
	l, o := 0, 0
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}

	res, err := h.docs.SearchDocuments(r.Context(), caller, text, f, l, o)
	if err != nil {
		h.writeServiceError(w, r, "search", err)
		return
	}
	items := res.Items
	if items == nil {
		items = []*model.Document{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Items: items, Total: res.Total, Limit: res.Limit, Offset: res.Offset})
}

// GetDocument обрабатывает GET /api/v1/documents/{id}.
func (h *APIHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, r, "get_document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument обрабатывает DELETE /api/v1/documents/{id}.
// Мягкое удаление: 204 без тела.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := h.docs.DeleteDocument(r.Context(), caller, id); err != nil {
		h.writeServiceError(w, r, "delete_document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// versionsResponse — цепочка версий с ревизиями.
type versionsResponse struct {
	Versions  []*model.Document `json:"versions"`
	Revisions []*model.Revision `json:"revisions"`
}

// ListVersions обрабатывает GET /api/v1/documents/{id}/versions.
func (h *APIHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	v, err := h.docs.ListVersions(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, r, "list_versions", err)
		return
	}
	resp := versionsResponse{Versions: v.Versions, Revisions: v.Revisions}
	if resp.Versions == nil {
		resp.Versions = []*model.Document{}
	}
	if resp.Revisions == nil {
		resp.Revisions = []*model.Revision{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// signedURLResponse — подписанная ссылка.
type signedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GetSignedURL обрабатывает GET /api/v1/documents/{id}/url.
// Параметр expires_in — TTL ссылки в секундах (по умолчанию из конфигурации).
func (h *APIHandler) GetSignedURL(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	var expiresIn *int
	if err := runtime.BindQueryParameter("form", true, false, "expires_in", r.URL.Query(), &expiresIn); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр expires_in: "+err.Error())
		return
	}
	var ttl time.Duration
	if expiresIn != nil {
		if *expiresIn <= 0 {
			apierrors.ValidationError(w, "Параметр expires_in должен быть положительным")
			return
		}
		ttl = time.Duration(*expiresIn) * time.Second
	}

	u, err := h.docs.GetSignedURL(r.Context(), caller, id, ttl)
	if err != nil {
		h.writeServiceError(w, r, "signed_url", err)
		return
	}
	writeJSON(w, http.StatusOK, signedURLResponse{URL: u.URL, ExpiresAt: u.ExpiresAt})
}

// accessLogResponse — события журнала доступа.
type accessLogResponse struct {
	Items []*model.AccessLogEntry `json:"items"`
}

// GetAccessLog обрабатывает GET /api/v1/documents/{id}/access-log.
func (h *APIHandler) GetAccessLog(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit: "+err.Error())
		return
	}
	l := 0
	if limit != nil {
		l = *limit
	}

	entries, err := h.docs.AccessHistory(r.Context(), caller, id, l)
	if err != nil {
		h.writeServiceError(w, r, "access_log", err)
		return
	}
	if entries == nil {
		entries = []*model.AccessLogEntry{}
	}
	writeJSON(w, http.StatusOK, accessLogResponse{Items: entries})
}

// --- Разбор multipart-формы ---

// parseMultipart ограничивает тело запроса и разбирает форму.
func (h *APIHandler) parseMultipart(w http.ResponseWriter, r *http.Request, files int) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize*int64(files)+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if info := classifyError(err); info.Code == apierrors.CodeFileTooLarge {
			apierrors.FileTooLarge(w, info.Message)
			return nil, false
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return nil, false
	}
	return r.MultipartForm, true
}

// partMeta дополняет общие поля формы именем и MIME файловой части.
func partMeta(base model.FileMeta, fh *multipart.FileHeader) model.FileMeta {
	meta := base
	meta.OriginalName = fh.Filename
	meta.MimeType = fh.Header.Get("Content-Type")
	return meta
}

// readPart читает содержимое файловой части целиком.
func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// bindForm привязывает необязательное поле формы к dest (указатель на указатель).
func bindForm(values url.Values, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, values, dest); err != nil {
		return fmt.Errorf("некорректное поле %s: %w", name, err)
	}
	return nil
}

// formString возвращает непустое значение поля или nil.
func formString(values url.Values, name string) *string {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return nil
	}
	return &v
}

// splitList собирает список из повторяемого поля и значений через запятую.
func splitList(values []string) []string {
	var result []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				result = append(result, p)
			}
		}
	}
	return result
}

// parseUploadContext разбирает бизнес-контекст загрузки.
func parseUploadContext(values url.Values) (model.UploadContext, error) {
	uc := model.UploadContext{
		Category:       values.Get("category"),
		Type:           values.Get("type"),
		ProcessStage:   values.Get("process_stage"),
		CustomerCode:   values.Get("customer_code"),
		OrderNumber:    values.Get("order_number"),
		CollectionCode: values.Get("collection_code"),
		ItemSKU:        values.Get("item_sku"),
		EntityRefs: model.EntityRefs{
			CustomerID:   formString(values, "customer_id"),
			OrderID:      formString(values, "order_id"),
			CollectionID: formString(values, "collection_id"),
			ProjectID:    formString(values, "project_id"),
			ItemID:       formString(values, "item_id"),
		},
	}

	var version, revision *int
	if err := bindForm(values, "version", &version); err != nil {
		return uc, err
	}
	if err := bindForm(values, "revision", &revision); err != nil {
		return uc, err
	}
	if version != nil {
		if *version < 1 {
			return uc, fmt.Errorf("поле version должно быть не меньше 1")
		}
		uc.Version = *version
	}
	if revision != nil {
		if *revision < 0 {
			return uc, fmt.Errorf("поле revision не может быть отрицательным")
		}
		uc.Revision = *revision
	}
	return uc, nil
}

// parseFileMeta разбирает описательные поля файла (без имени и MIME).
func parseFileMeta(values url.Values) (model.FileMeta, error) {
	meta := model.FileMeta{
		DisplayName: strings.TrimSpace(values.Get("display_name")),
		OwnerID:     strings.TrimSpace(values.Get("owner_id")),
	}
	if raw, ok := values["tags"]; ok {
		meta.Tags = splitList(raw)
		if meta.Tags == nil {
			meta.Tags = []string{}
		}
	}
	if v := values.Get("visibility"); v != "" {
		vis, ok := model.ParseVisibility(v)
		if !ok {
			return meta, fmt.Errorf("недопустимая видимость %q", v)
		}
		meta.Visibility = vis
	}
	return meta, nil
}

// parseUploadOptions разбирает опции загрузки.
func parseUploadOptions(values url.Values) (model.UploadOptions, error) {
	opts := model.UploadOptions{
		ApproverIDs:   splitList(values["approver_ids"]),
		ReviewMessage: values.Get("review_message"),
		OnConflict:    model.ConflictPolicy(values.Get("on_conflict")),
	}

	var (
		requestReview *bool
		deadline      *time.Time
		expiresIn     *int
	)
	if err := bindForm(values, "request_review", &requestReview); err != nil {
		return opts, err
	}
	if err := bindForm(values, "review_deadline", &deadline); err != nil {
		return opts, err
	}
	if err := bindForm(values, "url_expires_in", &expiresIn); err != nil {
		return opts, err
	}
	if requestReview != nil {
		opts.RequestReview = *requestReview
	}
	opts.ReviewDeadline = deadline
	if expiresIn != nil {
		if *expiresIn <= 0 {
			return opts, fmt.Errorf("поле url_expires_in должно быть положительным")
		}
		opts.URLExpiresIn = time.Duration(*expiresIn) * time.Second
	}
	return opts, nil
}

// parseChangeNotes разбирает описание изменений ревизии.
func parseChangeNotes(values url.Values) (model.ChangeNotes, error) {
	notes := model.ChangeNotes{
		RevisionType:       model.RevisionType(values.Get("revision_type")),
		ChangesDescription: values.Get("changes_description"),
	}

	var requote *bool
	if err := bindForm(values, "cost_impact", &notes.CostImpact); err != nil {
		return notes, err
	}
	if err := bindForm(values, "timeline_impact", &notes.TimelineImpact); err != nil {
		return notes, err
	}
	if err := bindForm(values, "requires_requote", &requote); err != nil {
		return notes, err
	}
	if requote != nil {
		notes.RequiresRequote = *requote
	}
	return notes, nil
}
