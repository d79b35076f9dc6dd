// Пакет checksum — идентичность содержимого документа.
// SHA-256 в нижнем регистре hex: стойкость к коллизиям важна,
// ложное совпадение молча отбросило бы другой файл.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size — длина hex-представления дайджеста.
const Size = sha256.Size * 2

// Compute вычисляет SHA-256 буфера.
func Compute(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FromReader вычисляет SHA-256 потока и возвращает дайджест и число прочитанных байт.
func FromReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("ошибка вычисления checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Valid проверяет формат дайджеста (64 hex-символа в нижнем регистре).
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
