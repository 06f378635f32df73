package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalStore — blob-хранилище в локальном каталоге.
// Ссылка для скачивания строится от publicURL; без него ссылок нет.
type LocalStore struct {
	dir       string
	publicURL string
	logger    *slog.Logger
}

// NewLocalStore создаёт каталог dir при необходимости.
func NewLocalStore(dir, publicURL string, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("создание каталога %s: %w", dir, err)
	}
	return &LocalStore{
		dir:       dir,
		publicURL: publicURL,
		logger:    logger.With(slog.String("component", "blob_local")),
	}, nil
}

// Put записывает данные во временный файл и атомарно переименовывает его.
func (s *LocalStore) Put(_ context.Context, data []byte, _ string) (string, error) {
	ref := newRef()

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("создание временного файла: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("запись содержимого: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("закрытие временного файла: %w", err)
	}
	if err := os.Rename(tmpName, s.path(ref)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("переименование %s: %w", tmpName, err)
	}

	s.logger.Debug("Содержимое сохранено",
		slog.String("content_ref", ref),
		slog.Int("bytes", len(data)),
	)
	return ref, nil
}

// URLFor возвращает publicURL/ref или "" без publicURL.
func (s *LocalStore) URLFor(_ context.Context, ref string) (string, error) {
	if err := validateRef(ref); err != nil {
		return "", err
	}
	if s.publicURL == "" {
		return "", nil
	}
	return s.publicURL + "/" + ref, nil
}

// Delete удаляет файл содержимого.
func (s *LocalStore) Delete(_ context.Context, ref string) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	if err := os.Remove(s.path(ref)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("удаление содержимого %s: %w", ref, err)
	}
	return nil
}

// CheckReady проверяет доступность каталога.
func (s *LocalStore) CheckReady() (status, message string) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return "fail", fmt.Sprintf("каталог недоступен: %v", err)
	}
	if !info.IsDir() {
		return "fail", s.dir + " не каталог"
	}
	return "ok", "каталог доступен"
}

func (s *LocalStore) path(ref string) string {
	return filepath.Join(s.dir, ref)
}
