// Пакет model — доменные модели FileVault.
package model

import "time"

// ContentType — дискриминатор типа содержимого файла.
type ContentType string

const (
	ContentTypeImage ContentType = "image"
	ContentTypePDF   ContentType = "pdf"
	ContentTypeCSV   ContentType = "csv"
)

// Valid проверяет, является ли тип одним из допустимых.
func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeImage, ContentTypePDF, ContentTypeCSV:
		return true
	default:
		return false
	}
}

// FileRecord — метаданные файла.
// Хранится в таблице files (postgres) или под ключом f:<id> (badger).
type FileRecord struct {
	// ID — UUID файла, неизменяемый
	ID string `json:"id"`
	// SpaceID — пространство-владелец (организация или личное), неизменяемое
	SpaceID string `json:"space_id"`
	// UploaderID — principal, загрузивший файл
	UploaderID string `json:"uploader_id"`
	// Name — отображаемое имя
	Name string `json:"name"`
	// Type — image, pdf или csv
	Type ContentType `json:"type"`
	// ContentRef — непрозрачная ссылка на содержимое в blob-хранилище
	ContentRef string `json:"content_ref"`
	// MarkedForDeletion — флаг soft delete
	MarkedForDeletion bool `json:"marked_for_deletion"`
	// MarkedAt — момент первой пометки на удаление (nil, если не помечен)
	MarkedAt *time.Time `json:"marked_at,omitempty"`
	// CreatedAt — время создания
	CreatedAt time.Time `json:"created_at"`
}

// Favorite — отметка «избранное» principal'а на файле.
// Уникальна по паре (PrincipalID, FileID).
type Favorite struct {
	PrincipalID string    `json:"principal_id"`
	FileID      string    `json:"file_id"`
	SpaceID     string    `json:"space_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListedFile — файл в выдаче списка с признаком избранного.
type ListedFile struct {
	File        *FileRecord
	IsFavorited bool
}
