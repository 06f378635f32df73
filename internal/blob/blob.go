// Пакет blob — внешнее хранилище содержимого файлов.
// Ядро работает только с непрозрачной ссылкой (content ref):
// Put отдаёт ссылку, URLFor превращает её в адрес для скачивания.
package blob

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidRef — ссылка не похожа на выданную хранилищем.
var ErrInvalidRef = errors.New("некорректная ссылка на содержимое")

// Store — контракт blob-хранилища.
type Store interface {
	// Put сохраняет байты и возвращает ссылку на содержимое.
	Put(ctx context.Context, data []byte, mediaType string) (string, error)
	// URLFor возвращает адрес для скачивания или "" если адреса нет.
	URLFor(ctx context.Context, ref string) (string, error)
	// Delete удаляет содержимое; отсутствие содержимого не ошибка.
	Delete(ctx context.Context, ref string) error
	// CheckReady — статус для readiness probe.
	CheckReady() (status, message string)
}

// newRef выдаёт новую ссылку.
func newRef() string {
	return uuid.NewString()
}

// validateRef принимает только ссылки формата UUID.
func validateRef(ref string) error {
	if _, err := uuid.Parse(ref); err != nil {
		return ErrInvalidRef
	}
	return nil
}
