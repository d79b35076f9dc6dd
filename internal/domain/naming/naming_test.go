package naming

import (
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

func strPtr(s string) *string { return &s }

var testTime = time.Date(2026, 10, 18, 14, 30, 0, 0, time.UTC)

func TestGenerateFileName(t *testing.T) {
	tests := []struct {
		name     string
		uc       model.UploadContext
		original string
		want     string
	}{
		{
			name:     "только категория",
			uc:       model.UploadContext{Category: "finance", Timestamp: testTime},
			original: "invoice.pdf",
			want:     "DOC_20261018_finance_v01.pdf",
		},
		{
			name: "все токены в фиксированном порядке",
			uc: model.UploadContext{
				CustomerCode:   "ACME",
				OrderNumber:    "ORD-1234",
				CollectionCode: "Nordic 2026",
				ItemSKU:        "CH_001",
				ProcessStage:   "production",
				Category:       "drawings",
				Type:           "cad",
				Version:        3,
				Revision:       2,
				Timestamp:      testTime,
			},
			original: "chair.DWG",
			want:     "DOC_20261018_ACME_ORD-1234_Nordic-2026_CH-001_production_drawings_cad_v03_r02.DWG",
		},
		{
			name:     "без расширения",
			uc:       model.UploadContext{Timestamp: testTime, Version: 12},
			original: "README",
			want:     "DOC_20261018_v12",
		},
		{
			name:     "пустые после очистки токены пропускаются",
			uc:       model.UploadContext{CustomerCode: "///", Category: "!!", Timestamp: testTime},
			original: "a.txt",
			want:     "DOC_20261018_v01.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateFileName(tt.uc, tt.original); got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}

func TestGeneratePath(t *testing.T) {
	tests := []struct {
		name string
		uc   model.UploadContext
		want string
	}{
		{
			name: "general без сущностей",
			uc:   model.UploadContext{Category: "finance", Timestamp: testTime},
			want: "2026/10/18/finance/general/f.pdf",
		},
		{
			name: "клиент приоритетнее заказа и проекта",
			uc: model.UploadContext{
				EntityRefs: model.EntityRefs{
					CustomerID: strPtr("c-1"),
					OrderID:    strPtr("o-1"),
					ProjectID:  strPtr("p-1"),
				},
				Timestamp: testTime,
			},
			want: "2026/10/18/customers/c-1/f.pdf",
		},
		{
			name: "заказ при отсутствии клиента",
			uc: model.UploadContext{
				EntityRefs: model.EntityRefs{OrderID: strPtr("o-1"), ProjectID: strPtr("p-1")},
				Timestamp:  testTime,
			},
			want: "2026/10/18/orders/o-1/f.pdf",
		},
		{
			name: "проект",
			uc: model.UploadContext{
				Category:   "Design",
				EntityRefs: model.EntityRefs{ProjectID: strPtr("p-9")},
				Timestamp:  testTime,
			},
			want: "2026/10/18/design/projects/p-9/f.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GeneratePath(tt.uc, "f.pdf"); got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}

// Одинаковые входные данные дают побайтно одинаковый результат.
func TestDeterminism(t *testing.T) {
	uc := model.UploadContext{
		CustomerCode: "ACME",
		Category:     "finance",
		EntityRefs:   model.EntityRefs{CustomerID: strPtr("42")},
		Version:      2,
		Timestamp:    testTime,
	}
	firstName := GenerateFileName(uc, "invoice.pdf")
	firstPath := GeneratePath(uc, firstName)

	for i := 0; i < 100; i++ {
		name := GenerateFileName(uc, "invoice.pdf")
		if name != firstName {
			t.Fatalf("итерация %d: имя %q != %q", i, name, firstName)
		}
		if p := GeneratePath(uc, name); p != firstPath {
			t.Fatalf("итерация %d: путь %q != %q", i, p, firstPath)
		}
	}
}

func TestNoPathTraversal(t *testing.T) {
	uc := model.UploadContext{
		Category:     "../../etc",
		CustomerCode: "..\\..\\windows",
		ProcessStage: "a/../b",
		EntityRefs:   model.EntityRefs{CustomerID: strPtr("../../root")},
		Timestamp:    testTime,
	}
	name := GenerateFileName(uc, "../../passwd..pdf")
	p := GeneratePath(uc, name)

	if strings.Contains(p, "..") || strings.Contains(p, "\\") {
		t.Fatalf("путь содержит опасные последовательности: %q", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			t.Fatalf("пустой сегмент в пути %q", p)
		}
	}
	if !strings.HasPrefix(p, "2026/10/18/etc/customers/root/") {
		t.Errorf("неожиданный путь: %q", p)
	}

	if got := GeneratePath(model.UploadContext{Timestamp: testTime}, "../.."); got != "2026/10/18/general/file" {
		t.Errorf("имя '..' должно заменяться на file, получено %q", got)
	}
}

func TestWithSuffix(t *testing.T) {
	tests := []struct {
		key  string
		n    int
		want string
	}{
		{"2026/10/18/general/DOC_v01.pdf", 2, "2026/10/18/general/DOC_v01-2.pdf"},
		{"2026/10/18/general/DOC_v01", 3, "2026/10/18/general/DOC_v01-3"},
	}
	for _, tt := range tests {
		if got := WithSuffix(tt.key, tt.n); got != tt.want {
			t.Errorf("WithSuffix(%q, %d): ожидалось %q, получено %q", tt.key, tt.n, tt.want, got)
		}
	}
}

func TestGenerateFileName_LengthBudget(t *testing.T) {
	long := strings.Repeat("x", 60)
	uc := model.UploadContext{
		CustomerCode:   long,
		OrderNumber:    long,
		CollectionCode: long,
		ItemSKU:        long,
		ProcessStage:   long,
		Category:       long,
		Type:           long,
		Version:        7,
		Revision:       12,
		Timestamp:      testTime,
	}
	original := "scan.verylongextension-name"

	got := GenerateFileName(uc, original)
	if len(got) > maxFileNameLen {
		t.Fatalf("длина имени %d превышает %d: %q", len(got), maxFileNameLen, got)
	}
	if !strings.HasPrefix(got, "DOC_20261018_x") {
		t.Errorf("токены контекста должны сохраниться: %q", got)
	}
	if !strings.HasSuffix(got, "_v07_r12.verylongextensio") {
		t.Errorf("версия, ревизия и расширение должны сохраниться: %q", got)
	}
	if got != GenerateFileName(uc, original) {
		t.Error("результат недетерминирован")
	}

	key := WithSuffix(GeneratePath(uc, got), 100)
	name := key[strings.LastIndex(key, "/")+1:]
	if len(name) > 255 {
		t.Errorf("имя с суффиксом %d символов не помещается в столбец", len(name))
	}
}

func TestFitTokens(t *testing.T) {
	tests := []struct {
		name   string
		tokens []string
		budget int
		want   []string
	}{
		{"помещаются", []string{"ab", "cd"}, 6, []string{"ab", "cd"}},
		{"срезается длинный", []string{"abcdef", "x"}, 6, []string{"abc", "x"}},
		{"дефис на границе", []string{"ab-cd", "x"}, 6, []string{"ab", "x"}},
		{"нет места", []string{"abc", "def"}, 1, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitTokens(tt.tokens, tt.budget)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("ожидалось %v, получено %v", tt.want, got)
			}
		})
	}
}

func TestFileType(t *testing.T) {
	tests := []struct {
		original string
		want     string
	}{
		{"invoice.PDF", "pdf"},
		{"README", ""},
		{"scan.verylongextension-name", "verylongextensio"},
		{"архив.tar.GZ", "gz"},
		{"bad.!!!", ""},
	}
	for _, tt := range tests {
		if got := FileType(tt.original); got != tt.want {
			t.Errorf("FileType(%q): ожидалось %q, получено %q", tt.original, tt.want, got)
		}
	}
}
