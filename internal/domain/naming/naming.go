// Пакет naming — генерация человекочитаемых имён файлов и ключей хранилища
// из контекста загрузки.
//
// Функции чистые: одинаковые контекст, момент загрузки и исходное имя
// дают побайтно одинаковый результат. Все токены контекста проходят
// через sanitizeToken, поэтому результат не содержит "/", "..", "\" и пробелов
// нигде, кроме разделителей сегментов пути.
package naming

import (
	"fmt"
	"path"
	"strings"

	"github.com/bigkaa/goartstore/document-module/internal/domain/model"
)

const (
	// Prefix — фиксированный префикс имени файла.
	Prefix = "DOC"
	// GeneralFolder — папка для документов без клиента, заказа и проекта.
	GeneralFolder = "general"

	maxTokenLen = 40
	maxExtLen   = 16
	// maxFileNameLen оставляет в VARCHAR(255) место под суффикс WithSuffix
	maxFileNameLen = 200
	dateLayout  = "20060102"
)

// GenerateFileName формирует имя файла:
//
//	DOC_<YYYYMMDD>[_клиент][_заказ][_коллекция][_SKU][_этап][_категория][_тип]_vNN[_rNN]<ext>
//
// Токены берутся только если присутствуют в контексте, порядок фиксирован.
// Расширение исходного имени сохраняется как есть. Имя не длиннее
// maxFileNameLen: при нехватке места токены контекста укорачиваются.
func GenerateFileName(uc model.UploadContext, originalName string) string {
	head := []string{Prefix, uc.Timestamp.UTC().Format(dateLayout)}

	var tokens []string
	for _, raw := range []string{
		uc.CustomerCode,
		uc.OrderNumber,
		uc.CollectionCode,
		uc.ItemSKU,
		uc.ProcessStage,
		uc.Category,
		uc.Type,
	} {
		if tok := sanitizeToken(raw); tok != "" {
			tokens = append(tokens, tok)
		}
	}

	version := uc.Version
	if version < 1 {
		version = 1
	}
	tail := []string{fmt.Sprintf("v%02d", version)}
	if uc.Revision > 0 {
		tail = append(tail, fmt.Sprintf("r%02d", uc.Revision))
	}
	ext := extension(originalName)

	// Каждый токен занимает len+1 с учётом разделителя
	budget := maxFileNameLen - len(strings.Join(head, "_")) - len(strings.Join(tail, "_")) - 1 - len(ext)
	tokens = fitTokens(tokens, budget)

	parts := append(head, tokens...)
	parts = append(parts, tail...)
	return strings.Join(parts, "_") + ext
}

// FileType возвращает тип файла: очищенное расширение в нижнем регистре
// без точки, не длиннее maxExtLen.
func FileType(originalName string) string {
	return strings.ToLower(strings.TrimPrefix(extension(originalName), "."))
}

// fitTokens укорачивает токены до общего предела, срезая сначала самые
// длинные. Токен, от которого ничего не осталось, отбрасывается.
func fitTokens(tokens []string, budget int) []string {
	total, longest := 0, 0
	for _, t := range tokens {
		total += len(t) + 1
		longest = max(longest, len(t))
	}
	if total <= budget {
		return tokens
	}

	limit := longest
	for limit > 0 {
		limit--
		n := 0
		for _, t := range tokens {
			n += min(len(t), limit) + 1
		}
		if n <= budget {
			break
		}
	}

	result := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if len(t) > limit {
			t = strings.TrimRight(t[:limit], "-")
		}
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}

// GeneratePath формирует ключ хранилища:
//
//	YYYY/MM/DD/[категория/]{customers/<id>|orders/<id>|projects/<id>|general}/<fileName>
//
// Папка сущности выбирается по первому присутствующему идентификатору
// в порядке клиент, заказ, проект.
func GeneratePath(uc model.UploadContext, fileName string) string {
	ts := uc.Timestamp.UTC()
	segments := []string{
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()),
	}

	if cat := sanitizeToken(uc.Category); cat != "" {
		segments = append(segments, strings.ToLower(cat))
	}

	segments = append(segments, entityFolder(uc.EntityRefs)...)
	segments = append(segments, safeFileName(fileName))

	return strings.Join(segments, "/")
}

// WithSuffix добавляет к имени в ключе числовой суффикс перед расширением:
// a/b/DOC_v01.pdf, 2 → a/b/DOC_v01-2.pdf.
func WithSuffix(key string, n int) string {
	dir, file := path.Split(key)
	ext := extension(file)
	base := strings.TrimSuffix(file, ext)
	return fmt.Sprintf("%s%s-%d%s", dir, base, n, ext)
}

// entityFolder возвращает папку бизнес-сущности или general.
func entityFolder(refs model.EntityRefs) []string {
	candidates := []struct {
		folder string
		id     *string
	}{
		{"customers", refs.CustomerID},
		{"orders", refs.OrderID},
		{"projects", refs.ProjectID},
	}
	for _, c := range candidates {
		if c.id == nil {
			continue
		}
		if tok := sanitizeToken(*c.id); tok != "" {
			return []string{c.folder, tok}
		}
	}
	return []string{GeneralFolder}
}

// sanitizeToken приводит токен к набору [A-Za-z0-9-]. Пробелы, точки,
// подчёркивания и слеши становятся дефисом, прочие символы отбрасываются,
// повторяющиеся дефисы схлопываются. Пустой результат — токен отсутствует.
func sanitizeToken(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.TrimSpace(s) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastDash = false
		case r == '-' || r == '_' || r == '.' || r == '/' || r == '\\' || r == ' ' || r == '\t':
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= maxTokenLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// extension возвращает расширение исходного имени без изменений,
// если оно состоит из букв и цифр; иначе очищенный вариант.
func extension(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	ext := path.Ext(path.Base(name))
	if len(ext) < 2 {
		return ""
	}
	body := ext[1:]
	clean := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		c := body[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return ""
	}
	if len(clean) > maxExtLen {
		clean = clean[:maxExtLen]
	}
	return "." + string(clean)
}

// safeFileName оставляет только последний сегмент имени и исключает "." и "..".
func safeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "file"
	}
	return name
}
