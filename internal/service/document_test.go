package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/document-module/internal/domain/checksum"
	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func float64Ptr(v float64) *float64 { return &v }

// invoiceContext — контекст загрузки счёта клиента ACME.
func invoiceContext() model.UploadContext {
	return model.UploadContext{
		Category:     "finance",
		Type:         "invoice",
		CustomerCode: "ACME",
		EntityRefs:   model.EntityRefs{CustomerID: strPtr("c-1")},
	}
}

func mustUpload(t *testing.T, env *testEnv, caller model.Caller, content string, meta model.FileMeta, uc model.UploadContext) *model.Document {
	t.Helper()
	if meta.OriginalName == "" {
		meta.OriginalName = "file.pdf"
	}
	res, err := env.docs.Upload(context.Background(), caller, []byte(content), meta, uc, model.UploadOptions{})
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	return res.Document
}

func TestUpload_Invoice(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	res, err := env.docs.Upload(ctx, user("u1"), []byte("%PDF invoice"), model.FileMeta{
		OriginalName: "scan.pdf",
		MimeType:     "application/pdf",
		Tags:         []string{"q1"},
	}, invoiceContext(), model.UploadOptions{})
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}

	doc := res.Document
	wantName := "DOC_20260315_ACME_finance_invoice_v01.pdf"
	if doc.FileName != wantName {
		t.Errorf("FileName: ожидалось %q, получено %q", wantName, doc.FileName)
	}
	wantPath := "2026/03/15/finance/customers/c-1/" + wantName
	if doc.StoragePath != wantPath {
		t.Errorf("StoragePath: ожидалось %q, получено %q", wantPath, doc.StoragePath)
	}
	if doc.Checksum != checksum.Compute([]byte("%PDF invoice")) {
		t.Error("checksum не совпадает с SHA-256 содержимого")
	}
	if doc.Status != model.StatusDraft || !doc.IsCurrentVersion || doc.VersionNumber != 1 {
		t.Errorf("ожидался draft v1 текущий, получено %s v%d current=%v", doc.Status, doc.VersionNumber, doc.IsCurrentVersion)
	}
	if doc.RootDocumentID != doc.ID {
		t.Error("у первой версии root_document_id должен совпадать с id")
	}
	if doc.DisplayName != "scan.pdf" || doc.FileType != "pdf" || doc.OwnerID != "u1" {
		t.Errorf("неожиданные метаданные: %+v", doc)
	}
	if doc.Visibility != model.VisibilityInternal {
		t.Errorf("видимость по умолчанию: ожидалось internal, получено %s", doc.Visibility)
	}
	if doc.StorageProvider != "memory" || doc.StorageBucket != "test" {
		t.Errorf("неожиданный провайдер: %s/%s", doc.StorageProvider, doc.StorageBucket)
	}
	if data, ok := env.blobs.get(wantPath); !ok || string(data) != "%PDF invoice" {
		t.Error("объект не записан в хранилище")
	}
	if !strings.HasPrefix(res.URL, "mem://signed/") {
		t.Errorf("для internal ожидалась подписанная ссылка, получено %q", res.URL)
	}
	if n := env.store.accessEntries(doc.ID, model.AccessUpload); n != 1 {
		t.Errorf("ожидалась 1 запись upload в журнале, получено %d", n)
	}
}

func TestUpload_PublicURL(t *testing.T) {
	env := newTestEnv("u1")
	res, err := env.docs.Upload(context.Background(), user("u1"), []byte("brochure"),
		model.FileMeta{OriginalName: "b.pdf", Visibility: model.VisibilityPublic},
		model.UploadContext{}, model.UploadOptions{})
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	if !strings.HasPrefix(res.URL, "mem://public/") {
		t.Errorf("для public ожидалась публичная ссылка, получено %q", res.URL)
	}
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		meta model.FileMeta
		opts model.UploadOptions
	}{
		{"пустой файл", nil, model.FileMeta{OriginalName: "a.pdf"}, model.UploadOptions{}},
		{"без имени", []byte("x"), model.FileMeta{OriginalName: "  "}, model.UploadOptions{}},
		{"видимость", []byte("x"), model.FileMeta{OriginalName: "a.pdf", Visibility: "secret"}, model.UploadOptions{}},
		{"политика конфликта", []byte("x"), model.FileMeta{OriginalName: "a.pdf"}, model.UploadOptions{OnConflict: "merge"}},
		{"повтор согласующего", []byte("x"), model.FileMeta{OriginalName: "a.pdf"},
			model.UploadOptions{RequestReview: true, ApproverIDs: []string{"a", "a"}}},
		{"длинное отображаемое имя", []byte("x"), model.FileMeta{OriginalName: "a.pdf", DisplayName: strings.Repeat("я", 256)}, model.UploadOptions{}},
		{"длинный MIME", []byte("x"), model.FileMeta{OriginalName: "a.pdf", MimeType: "application/" + strings.Repeat("x", 250)}, model.UploadOptions{}},
		{"длинное исходное имя", []byte("x"), model.FileMeta{OriginalName: strings.Repeat("a", 252) + ".pdf"}, model.UploadOptions{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.docs.Upload(ctx, user("u1"), tt.data, tt.meta, model.UploadContext{}, tt.opts)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ожидалась ErrValidation, получено %v", err)
			}
		})
	}
	if env.blobs.count() != 0 {
		t.Error("при ошибке валидации хранилище не должно изменяться")
	}
}

func TestUpload_LongContextFitsColumns(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	long := strings.Repeat("z", 60)
	uc := model.UploadContext{
		CustomerCode:   long,
		OrderNumber:    long,
		CollectionCode: long,
		ItemSKU:        long,
		ProcessStage:   long,
		Category:       long,
		Type:           long,
	}
	doc := mustUpload(t, env, user("u1"), "long-context", model.FileMeta{OriginalName: "scan.verylongextension-name"}, uc)
	if len(doc.FileName) > 255 {
		t.Errorf("file_name %d символов не помещается в столбец", len(doc.FileName))
	}
	if doc.FileType != "verylongextensio" {
		t.Errorf("file_type: ожидалось %q, получено %q", "verylongextensio", doc.FileType)
	}

	// Контекст длиннее столбца отклоняется до записи объекта
	before := env.blobs.count()
	uc.Category = strings.Repeat("c", 101)
	_, err := env.docs.Upload(ctx, user("u1"), []byte("too-long"), model.FileMeta{OriginalName: "a.pdf"}, uc, model.UploadOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидалась ErrValidation, получено %v", err)
	}
	uc.Category = "finance"
	uc.EntityRefs.OrderID = strPtr(strings.Repeat("o", 256))
	_, err = env.docs.Upload(ctx, user("u1"), []byte("too-long"), model.FileMeta{OriginalName: "a.pdf"}, uc, model.UploadOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ожидалась ErrValidation, получено %v", err)
	}
	if env.blobs.count() != before {
		t.Error("при ошибке валидации хранилище не должно изменяться")
	}
}

func TestUpload_DuplicateContent(t *testing.T) {
	env := newTestEnv("u1", "u2")
	ctx := context.Background()

	first := mustUpload(t, env, user("u1"), "same bytes", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	_, err := env.docs.Upload(ctx, user("u2"), []byte("same bytes"),
		model.FileMeta{OriginalName: "other-name.docx"}, model.UploadContext{Category: "legal"}, model.UploadOptions{})

	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("ожидалась DuplicateError, получено %v", err)
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Error("DuplicateError должна оборачивать ErrDuplicate")
	}
	if dup.Existing.ID != first.ID {
		t.Errorf("ожидалась ссылка на %s, получено %s", first.ID, dup.Existing.ID)
	}
	if env.blobs.count() != 1 {
		t.Errorf("дубликат не должен записываться в хранилище, объектов: %d", env.blobs.count())
	}
	if env.store.docCount() != 1 {
		t.Errorf("дубликат не должен создавать документ, документов: %d", env.store.docCount())
	}
}

func TestUpload_ReuseContentAfterDelete(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	first := mustUpload(t, env, user("u1"), "reusable", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})
	if err := env.docs.DeleteDocument(ctx, user("u1"), first.ID); err != nil {
		t.Fatalf("Ошибка удаления: %v", err)
	}

	res, err := env.docs.Upload(ctx, user("u1"), []byte("reusable"),
		model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{}, model.UploadOptions{OnConflict: model.ConflictRename})
	if err != nil {
		t.Fatalf("повторная загрузка после удаления должна пройти: %v", err)
	}
	if res.Document.ID == first.ID {
		t.Error("ожидался новый документ")
	}
}

func TestUpload_QuotaExceeded(t *testing.T) {
	env := newTestEnv()
	p := allowAll()
	p.StorageQuotaGB = float64Ptr(1)
	p.StorageUsedGB = 1 - 512.0/(1<<30) // свободно 512 байт
	env.perms.set("u1", p)

	_, err := env.docs.Upload(context.Background(), user("u1"), make([]byte, 1024),
		model.FileMeta{OriginalName: "big.bin"}, model.UploadContext{}, model.UploadOptions{})

	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("ожидалась QuotaExceededError, получено %v", err)
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("ошибка должна оборачивать ErrQuotaExceeded")
	}
	if qe.RemainingBytes < 500 || qe.RemainingBytes > 512 {
		t.Errorf("остаток квоты: ожидалось около 512, получено %d", qe.RemainingBytes)
	}
	if env.blobs.count() != 0 || env.store.docCount() != 0 {
		t.Error("при превышении квоты ничего не должно записываться")
	}
}

func TestUpload_TooLarge(t *testing.T) {
	env := newTestEnv()
	p := allowAll()
	p.MaxUploadSizeMB = int64Ptr(1)
	env.perms.set("u1", p)

	_, err := env.docs.Upload(context.Background(), user("u1"), make([]byte, 2<<20),
		model.FileMeta{OriginalName: "big.bin"}, model.UploadContext{}, model.UploadOptions{})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation, получено %v", err)
	}
}

func TestUpload_PermissionDenied(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{"нет права загрузки", func(env *testEnv) {
			p := allowAll()
			p.CanUpload = false
			env.perms.set("u1", p)
		}},
		{"права истекли", func(env *testEnv) {
			p := allowAll()
			p.IsExpired = true
			env.perms.set("u1", p)
		}},
		{"сервис прав недоступен", func(env *testEnv) {
			env.perms.err = errors.New("connection refused")
		}},
		{"пользователь неизвестен", func(env *testEnv) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			tt.setup(env)
			_, err := env.docs.Upload(context.Background(), user("u1"), []byte("x"),
				model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{}, model.UploadOptions{})
			if !errors.Is(err, ErrPermissionDenied) {
				t.Errorf("ожидалась ErrPermissionDenied, получено %v", err)
			}
			if env.blobs.count() != 0 {
				t.Error("при отказе хранилище не должно изменяться")
			}
		})
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	env := newTestEnv("u1")
	env.blobs.failUpload = true

	_, err := env.docs.Upload(context.Background(), user("u1"), []byte("x"),
		model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{}, model.UploadOptions{})
	if !errors.Is(err, ErrStorageWrite) {
		t.Errorf("ожидалась ErrStorageWrite, получено %v", err)
	}
	if env.store.docCount() != 0 {
		t.Error("при ошибке хранилища документ не должен создаваться")
	}
}

func TestUpload_ConcurrentDuplicateCleansUp(t *testing.T) {
	env := newTestEnv("u1")

	winner := &model.Document{
		ID:               "00000000-0000-0000-0000-000000000001",
		Checksum:         checksum.Compute([]byte("race")),
		State:            model.StateActive,
		Status:           model.StatusDraft,
		IsCurrentVersion: true,
		RootDocumentID:   "00000000-0000-0000-0000-000000000001",
	}
	env.store.put(winner)
	env.store.missChecksumOnce = true

	_, err := env.docs.Upload(context.Background(), user("u1"), []byte("race"),
		model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{}, model.UploadOptions{})

	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("ожидалась DuplicateError, получено %v", err)
	}
	if dup.Existing.ID != winner.ID {
		t.Errorf("ожидалась ссылка на победителя гонки %s, получено %s", winner.ID, dup.Existing.ID)
	}
	if env.blobs.count() != 0 {
		t.Error("объект проигравшей загрузки должен быть удалён")
	}
}

func TestUpload_ConflictPolicy(t *testing.T) {
	uc := model.UploadContext{Category: "finance"}
	path := "2026/03/15/finance/general/DOC_20260315_finance_v01.pdf"

	t.Run("reject", func(t *testing.T) {
		env := newTestEnv("u1")
		mustUpload(t, env, user("u1"), "one", model.FileMeta{OriginalName: "a.pdf"}, uc)
		_, err := env.docs.Upload(context.Background(), user("u1"), []byte("two"),
			model.FileMeta{OriginalName: "a.pdf"}, uc, model.UploadOptions{})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("ожидалась ErrConflict, получено %v", err)
		}
		if data, _ := env.blobs.get(path); string(data) != "one" {
			t.Error("существующий объект не должен перезаписываться")
		}
	})

	t.Run("rename", func(t *testing.T) {
		env := newTestEnv("u1")
		mustUpload(t, env, user("u1"), "one", model.FileMeta{OriginalName: "a.pdf"}, uc)
		res, err := env.docs.Upload(context.Background(), user("u1"), []byte("two"),
			model.FileMeta{OriginalName: "a.pdf"}, uc, model.UploadOptions{OnConflict: model.ConflictRename})
		if err != nil {
			t.Fatalf("Ошибка загрузки: %v", err)
		}
		want := "2026/03/15/finance/general/DOC_20260315_finance_v01-2.pdf"
		if res.Document.StoragePath != want {
			t.Errorf("ожидался путь %q, получено %q", want, res.Document.StoragePath)
		}
		if res.Document.FileName != "DOC_20260315_finance_v01-2.pdf" {
			t.Errorf("имя файла должно соответствовать пути, получено %q", res.Document.FileName)
		}
	})

	t.Run("overwrite активного документа", func(t *testing.T) {
		env := newTestEnv("u1")
		first := mustUpload(t, env, user("u1"), "one", model.FileMeta{OriginalName: "a.pdf"}, uc)
		_, err := env.docs.Upload(context.Background(), user("u1"), []byte("two"),
			model.FileMeta{OriginalName: "b.pdf"}, uc, model.UploadOptions{OnConflict: model.ConflictOverwrite})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("ожидалась ErrConflict, получено %v", err)
		}
		data, _ := env.blobs.get(path)
		if string(data) != "one" {
			t.Errorf("содержимое активного документа изменено: %q", data)
		}
		if got := env.store.doc(first.ID); got.Checksum != checksum.Compute(data) {
			t.Error("checksum документа не соответствует содержимому объекта")
		}
	})

	t.Run("overwrite осиротевшего объекта", func(t *testing.T) {
		env := newTestEnv("u1")
		if _, err := env.blobs.Upload(context.Background(), path, strings.NewReader("stale"), 5, "application/pdf"); err != nil {
			t.Fatal(err)
		}
		res, err := env.docs.Upload(context.Background(), user("u1"), []byte("two"),
			model.FileMeta{OriginalName: "a.pdf"}, uc, model.UploadOptions{OnConflict: model.ConflictOverwrite})
		if err != nil {
			t.Fatalf("Ошибка загрузки: %v", err)
		}
		if res.Document.StoragePath != path {
			t.Errorf("ожидался путь %q, получено %q", path, res.Document.StoragePath)
		}
		if data, _ := env.blobs.get(path); string(data) != "two" {
			t.Error("объект без документа должен быть перезаписан")
		}
	})

	t.Run("overwrite после удаления документа", func(t *testing.T) {
		env := newTestEnv("u1")
		first := mustUpload(t, env, user("u1"), "one", model.FileMeta{OriginalName: "a.pdf"}, uc)
		if err := env.docs.DeleteDocument(context.Background(), user("u1"), first.ID); err != nil {
			t.Fatalf("Ошибка удаления: %v", err)
		}
		if _, err := env.docs.Upload(context.Background(), user("u1"), []byte("two"),
			model.FileMeta{OriginalName: "a.pdf"}, uc, model.UploadOptions{OnConflict: model.ConflictOverwrite}); err != nil {
			t.Fatalf("Ошибка загрузки: %v", err)
		}
		if data, _ := env.blobs.get(path); string(data) != "two" {
			t.Error("объект удалённого документа должен быть перезаписан")
		}
	})
}

func TestUpload_WithReview(t *testing.T) {
	env := newTestEnv("u1")

	res, err := env.docs.Upload(context.Background(), user("u1"), []byte("drawing"),
		model.FileMeta{OriginalName: "d.dwg"}, model.UploadContext{}, model.UploadOptions{
			RequestReview: true,
			ApproverIDs:   []string{"a", "b"},
			ReviewMessage: "проверьте размеры",
		})
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	if res.Document.Status != model.StatusPendingReview {
		t.Errorf("ожидался pending_review, получено %s", res.Document.Status)
	}
	if len(res.Approvals) != 2 {
		t.Fatalf("ожидалось 2 запроса согласования, получено %d", len(res.Approvals))
	}
	for _, a := range res.Approvals {
		if a.Status != model.ApprovalPending || a.RequestedBy != "u1" || a.Message != "проверьте размеры" {
			t.Errorf("неожиданный запрос согласования: %+v", a)
		}
	}
	if got := env.store.doc(res.Document.ID).Status; got != model.StatusPendingReview {
		t.Errorf("в хранилище ожидался pending_review, получено %s", got)
	}
}

// sequentialFiles выдаёт содержимое файлов пакета и отмечает, если файл
// открыт до закрытия предыдущего.
type sequentialFiles struct {
	open    int
	opened  []string
	overlap bool
}

type trackedReader struct {
	io.Reader
	files *sequentialFiles
}

func (r trackedReader) Close() error {
	r.files.open--
	return nil
}

func (f *sequentialFiles) file(content string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		if f.open > 0 {
			f.overlap = true
		}
		f.open++
		f.opened = append(f.opened, content)
		return trackedReader{Reader: strings.NewReader(content), files: f}, nil
	}
}

func TestUploadMultiple(t *testing.T) {
	env := newTestEnv("u1")
	mustUpload(t, env, user("u1"), "existing", model.FileMeta{OriginalName: "e.pdf"}, model.UploadContext{Category: "x"})

	src := &sequentialFiles{}
	items := env.docs.UploadMultiple(context.Background(), user("u1"), []model.UploadFile{
		{Open: src.file("first"), Meta: model.FileMeta{OriginalName: "1.pdf"}, Context: model.UploadContext{Type: "one"}},
		{Open: src.file("existing"), Meta: model.FileMeta{OriginalName: "2.pdf"}},
		{Open: src.file(""), Meta: model.FileMeta{OriginalName: "3.pdf"}},
		{Open: src.file("fourth"), Meta: model.FileMeta{OriginalName: "4.pdf"}, Context: model.UploadContext{Type: "four"}},
		{Open: func() (io.ReadCloser, error) { return nil, errors.New("временный файл удалён") }, Meta: model.FileMeta{OriginalName: "5.pdf"}},
		{Meta: model.FileMeta{OriginalName: "6.pdf"}},
	}, model.UploadOptions{})

	if len(items) != 6 {
		t.Fatalf("ожидалось 6 результатов, получено %d", len(items))
	}
	if items[0].Err != nil || items[3].Err != nil {
		t.Errorf("успешные файлы не должны зависеть от ошибок других: %v, %v", items[0].Err, items[3].Err)
	}
	if !errors.Is(items[1].Err, ErrDuplicate) {
		t.Errorf("второй файл: ожидалась ErrDuplicate, получено %v", items[1].Err)
	}
	for _, i := range []int{2, 4, 5} {
		if !errors.Is(items[i].Err, ErrValidation) {
			t.Errorf("файл %d: ожидалась ErrValidation, получено %v", i+1, items[i].Err)
		}
	}

	if src.overlap || src.open != 0 {
		t.Errorf("файлы должны читаться по одному и закрываться: overlap=%v open=%d", src.overlap, src.open)
	}
	if strings.Join(src.opened, ",") != "first,existing,,fourth" {
		t.Errorf("неожиданный порядок чтения: %v", src.opened)
	}
}

func TestUpload_AuditFailureIsSwallowed(t *testing.T) {
	env := newTestEnv("u1")
	env.store.failAudit = true

	if _, err := env.docs.Upload(context.Background(), user("u1"), []byte("x"),
		model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{}, model.UploadOptions{}); err != nil {
		t.Errorf("ошибка журнала не должна прерывать загрузку: %v", err)
	}
}

func TestCreateRevision(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	v1 := mustUpload(t, env, user("u1"), "rev 1", model.FileMeta{OriginalName: "scan.pdf", Tags: []string{"q1"}}, invoiceContext())

	res, err := env.docs.CreateRevision(ctx, user("u1"), v1.ID, []byte("rev 2"),
		model.FileMeta{OriginalName: "scan-fixed.pdf"},
		model.ChangeNotes{RevisionType: model.RevisionMajor, ChangesDescription: "исправлена сумма", CostImpact: float64Ptr(150.5)})
	if err != nil {
		t.Fatalf("Ошибка создания ревизии: %v", err)
	}

	v2 := res.Document
	if v2.VersionNumber != 2 || !v2.IsCurrentVersion || v2.Status != model.StatusDraft {
		t.Errorf("ожидался текущий draft v2, получено v%d current=%v %s", v2.VersionNumber, v2.IsCurrentVersion, v2.Status)
	}
	if v2.ParentDocumentID == nil || *v2.ParentDocumentID != v1.ID || v2.RootDocumentID != v1.ID {
		t.Errorf("неверные ссылки цепочки: parent=%v root=%s", v2.ParentDocumentID, v2.RootDocumentID)
	}
	if v2.FileName != "DOC_20260315_finance_invoice_v02.pdf" {
		t.Errorf("неожиданное имя файла v2: %q", v2.FileName)
	}
	if len(v2.Tags) != 1 || v2.Tags[0] != "q1" || v2.CustomerID == nil || *v2.CustomerID != "c-1" {
		t.Errorf("v2 должна наследовать теги и ссылки, получено %+v", v2)
	}
	if env.store.doc(v1.ID).IsCurrentVersion {
		t.Error("v1 не должна оставаться текущей")
	}

	rev := res.Revision
	if rev == nil || rev.DocumentID != v2.ID || rev.RevisionNumber != 2 || rev.RevisionType != model.RevisionMajor {
		t.Fatalf("неожиданная ревизия: %+v", rev)
	}

	// Ревизия не текущей версии запрещена
	_, err = env.docs.CreateRevision(ctx, user("u1"), v1.ID, []byte("rev 3"),
		model.FileMeta{OriginalName: "x.pdf"}, model.ChangeNotes{})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict для не текущей версии, получено %v", err)
	}

	versions, err := env.docs.ListVersions(ctx, user("u1"), v1.ID)
	if err != nil {
		t.Fatalf("Ошибка списка версий: %v", err)
	}
	if len(versions.Versions) != 2 || versions.Versions[0].ID != v2.ID {
		t.Errorf("ожидались 2 версии, новая первой, получено %d", len(versions.Versions))
	}
	if len(versions.Revisions) != 1 {
		t.Errorf("ожидалась 1 ревизия, получено %d", len(versions.Revisions))
	}
}

func TestCreateRevision_DuplicateContentKeepsParentCurrent(t *testing.T) {
	env := newTestEnv("u1")
	v1 := mustUpload(t, env, user("u1"), "same", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	_, err := env.docs.CreateRevision(context.Background(), user("u1"), v1.ID, []byte("same"),
		model.FileMeta{OriginalName: "a.pdf"}, model.ChangeNotes{})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("ожидалась ErrDuplicate, получено %v", err)
	}
	if !env.store.doc(v1.ID).IsCurrentVersion {
		t.Error("родитель должен остаться текущей версией")
	}
}

func TestCreateRevision_InvalidType(t *testing.T) {
	env := newTestEnv("u1")
	v1 := mustUpload(t, env, user("u1"), "a", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	_, err := env.docs.CreateRevision(context.Background(), user("u1"), v1.ID, []byte("b"),
		model.FileMeta{OriginalName: "a.pdf"}, model.ChangeNotes{RevisionType: "patch"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("ожидалась ErrValidation, получено %v", err)
	}
}

func TestDeleteDocument_PromotesPreviousVersion(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	v1 := mustUpload(t, env, user("u1"), "v1", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})
	res, err := env.docs.CreateRevision(ctx, user("u1"), v1.ID, []byte("v2"), model.FileMeta{OriginalName: "a.pdf"}, model.ChangeNotes{})
	if err != nil {
		t.Fatalf("Ошибка создания ревизии: %v", err)
	}

	if err := env.docs.DeleteDocument(ctx, user("u1"), res.Document.ID); err != nil {
		t.Fatalf("Ошибка удаления: %v", err)
	}

	deleted := env.store.doc(res.Document.ID)
	if deleted.State != model.StateDeleted || deleted.Status != model.StatusDeleted || deleted.DeletedBy == nil {
		t.Errorf("ожидался soft delete, получено %+v", deleted)
	}
	if !env.store.doc(v1.ID).IsCurrentVersion {
		t.Error("после удаления текущей версии v1 должна стать текущей")
	}
	if _, ok := env.blobs.get(res.Document.StoragePath); !ok {
		t.Error("soft delete не удаляет объект из хранилища")
	}
	if n := env.store.accessEntries(res.Document.ID, model.AccessDelete); n != 1 {
		t.Errorf("ожидалась 1 запись delete в журнале, получено %d", n)
	}

	if _, err := env.docs.GetDocument(ctx, user("u1"), res.Document.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("удалённый документ должен быть не найден, получено %v", err)
	}
	if err := env.docs.DeleteDocument(ctx, user("u1"), res.Document.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получено %v", err)
	}
}

func TestDeleteDocument_Permissions(t *testing.T) {
	env := newTestEnv("owner", "other", "root")
	ctx := context.Background()
	doc := mustUpload(t, env, user("owner"), "x", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	if err := env.docs.DeleteDocument(ctx, user("other"), doc.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("чужой пользователь: ожидалась ErrPermissionDenied, получено %v", err)
	}

	p := allowAll()
	p.CanDelete = false
	env.perms.set("owner", p)
	if err := env.docs.DeleteDocument(ctx, user("owner"), doc.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("без can_delete: ожидалась ErrPermissionDenied, получено %v", err)
	}

	if err := env.docs.DeleteDocument(ctx, admin("root"), doc.ID); err != nil {
		t.Errorf("администратор должен удалять чужие документы: %v", err)
	}
}

func TestGetDocument(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()
	doc := mustUpload(t, env, user("u1"), "x", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	got, err := env.docs.GetDocument(ctx, user("u1"), doc.ID)
	if err != nil {
		t.Fatalf("Ошибка получения: %v", err)
	}
	if got.ID != doc.ID {
		t.Errorf("ожидался %s, получено %s", doc.ID, got.ID)
	}
	if n := env.store.accessEntries(doc.ID, model.AccessView); n != 1 {
		t.Errorf("ожидалась 1 запись view, получено %d", n)
	}

	for _, id := range []string{"not-a-uuid", "00000000-0000-0000-0000-00000000abcd"} {
		if _, err := env.docs.GetDocument(ctx, user("u1"), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: ожидалась ErrNotFound, получено %v", id, err)
		}
	}
}

func TestRestrictedVisibilityAndShare(t *testing.T) {
	env := newTestEnv("owner", "guest", "root")
	ctx := context.Background()

	doc := mustUpload(t, env, user("owner"), "secret", model.FileMeta{
		OriginalName: "nda.pdf",
		Visibility:   model.VisibilityRestricted,
	}, model.UploadContext{})

	if _, err := env.docs.GetDocument(ctx, user("guest"), doc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("restricted документ должен быть скрыт, получено %v", err)
	}
	if res, _ := env.docs.SearchDocuments(ctx, user("guest"), "", SearchFilters{}, 0, 0); res.Total != 0 {
		t.Errorf("restricted документ не должен находиться поиском, найдено %d", res.Total)
	}
	if _, err := env.docs.GetDocument(ctx, admin("root"), doc.ID); err != nil {
		t.Errorf("администратор должен видеть restricted документ: %v", err)
	}

	share, err := env.docs.ShareDocument(ctx, user("owner"), []string{doc.ID}, []string{"guest", "guest"})
	if err != nil {
		t.Fatalf("Ошибка выдачи доступа: %v", err)
	}
	if len(share.Granted) != 1 {
		t.Errorf("ожидалась 1 выдача, получено %d", len(share.Granted))
	}

	if _, err := env.docs.GetDocument(ctx, user("guest"), doc.ID); err != nil {
		t.Errorf("после выдачи документ должен быть доступен: %v", err)
	}
	if res, _ := env.docs.SearchDocuments(ctx, user("guest"), "", SearchFilters{}, 0, 0); res.Total != 1 {
		t.Errorf("после выдачи документ должен находиться поиском, найдено %d", res.Total)
	}

	again, err := env.docs.ShareDocument(ctx, user("owner"), []string{doc.ID}, []string{"guest"})
	if err != nil {
		t.Fatalf("повторная выдача должна быть идемпотентной: %v", err)
	}
	if len(again.Granted) != 0 || again.Existing != 1 {
		t.Errorf("повторная выдача: granted=%d existing=%d", len(again.Granted), again.Existing)
	}
	if n := env.store.accessEntries(doc.ID, model.AccessShare); n != 2 {
		t.Errorf("ожидалось 2 записи share, получено %d", n)
	}
}

func TestShareDocument_Errors(t *testing.T) {
	env := newTestEnv("u1", "u2")
	ctx := context.Background()
	doc := mustUpload(t, env, user("u1"), "x", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	if _, err := env.docs.ShareDocument(ctx, user("u1"), nil, []string{"u2"}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой список документов: ожидалась ErrValidation, получено %v", err)
	}
	if _, err := env.docs.ShareDocument(ctx, user("u1"), []string{doc.ID}, []string{""}); !errors.Is(err, ErrValidation) {
		t.Errorf("пустой список пользователей: ожидалась ErrValidation, получено %v", err)
	}

	missing := "00000000-0000-0000-0000-00000000dead"
	if _, err := env.docs.ShareDocument(ctx, user("u1"), []string{doc.ID, missing}, []string{"u2"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий документ: ожидалась ErrNotFound, получено %v", err)
	}
	if ok, _ := env.store.Repos().Shares.HasAccess(ctx, doc.ID, "u2"); ok {
		t.Error("выдача должна быть атомарной: доступ не должен появиться")
	}

	p := allowAll()
	p.CanShare = false
	env.perms.set("u1", p)
	if _, err := env.docs.ShareDocument(ctx, user("u1"), []string{doc.ID}, []string{"u2"}); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("без can_share: ожидалась ErrPermissionDenied, получено %v", err)
	}
}

func TestSearchDocuments(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()

	for _, c := range []string{"a", "b", "c"} {
		mustUpload(t, env, user("u1"), c, model.FileMeta{OriginalName: c + ".pdf", DisplayName: "report-" + c},
			model.UploadContext{Category: "finance", Type: c})
	}
	mustUpload(t, env, user("u1"), "d", model.FileMeta{OriginalName: "d.pdf", DisplayName: "drawing"},
		model.UploadContext{Category: "design"})

	res, err := env.docs.SearchDocuments(ctx, user("u1"), "report", SearchFilters{}, 2, 0)
	if err != nil {
		t.Fatalf("Ошибка поиска: %v", err)
	}
	if res.Total != 3 || len(res.Items) != 2 || res.Limit != 2 {
		t.Errorf("ожидалось total=3 items=2, получено total=%d items=%d", res.Total, len(res.Items))
	}

	res, _ = env.docs.SearchDocuments(ctx, user("u1"), "", SearchFilters{Category: strPtr("design")}, 0, 0)
	if res.Total != 1 || res.Limit != DefaultSearchLimit {
		t.Errorf("фильтр по категории: total=%d limit=%d", res.Total, res.Limit)
	}

	res, _ = env.docs.SearchDocuments(ctx, user("u1"), "", SearchFilters{}, 1000, -5)
	if res.Limit != MaxSearchLimit || res.Offset != 0 {
		t.Errorf("limit/offset должны ограничиваться: %d/%d", res.Limit, res.Offset)
	}

	p := allowAll()
	p.CanAccess = false
	env.perms.set("u1", p)
	if _, err := env.docs.SearchDocuments(ctx, user("u1"), "", SearchFilters{}, 0, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("без can_access: ожидалась ErrPermissionDenied, получено %v", err)
	}
}

func TestGetSignedURL(t *testing.T) {
	env := newTestEnv("u1")
	ctx := context.Background()
	doc := mustUpload(t, env, user("u1"), "x", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	u, err := env.docs.GetSignedURL(ctx, user("u1"), doc.ID, 0)
	if err != nil {
		t.Fatalf("Ошибка получения ссылки: %v", err)
	}
	if !strings.HasSuffix(u.URL, "?ttl=1h0m0s") {
		t.Errorf("ожидался TTL по умолчанию, получено %q", u.URL)
	}
	if !u.ExpiresAt.Equal(testNow.Add(env.docs.opts.SignedURLTTL)) {
		t.Errorf("неожиданный expires_at: %s", u.ExpiresAt)
	}
	if n := env.store.accessEntries(doc.ID, model.AccessDownload); n != 1 {
		t.Errorf("ожидалась 1 запись download, получено %d", n)
	}

	p := allowAll()
	p.CanDownload = false
	env.perms.set("u1", p)
	if _, err := env.docs.GetSignedURL(ctx, user("u1"), doc.ID, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("без can_download: ожидалась ErrPermissionDenied, получено %v", err)
	}
}

func TestAccessHistory(t *testing.T) {
	env := newTestEnv("owner", "reader", "root")
	ctx := context.Background()
	doc := mustUpload(t, env, user("owner"), "x", model.FileMeta{OriginalName: "a.pdf"}, model.UploadContext{})

	if _, err := env.docs.GetDocument(ctx, user("reader"), doc.ID); err != nil {
		t.Fatalf("Ошибка получения: %v", err)
	}

	entries, err := env.docs.AccessHistory(ctx, user("owner"), doc.ID, 0)
	if err != nil {
		t.Fatalf("Ошибка журнала: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ожидалось 2 события (upload, view), получено %d", len(entries))
	}
	if entries[0].AccessType != model.AccessView || entries[0].AccessedBy != "reader" {
		t.Errorf("первым ожидалось последнее событие view от reader, получено %+v", entries[0])
	}

	if _, err := env.docs.AccessHistory(ctx, admin("root"), doc.ID, 1); err != nil {
		t.Errorf("администратор должен видеть журнал: %v", err)
	}
	if _, err := env.docs.AccessHistory(ctx, user("reader"), doc.ID, 0); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("посторонний: ожидалась ErrPermissionDenied, получено %v", err)
	}
}
