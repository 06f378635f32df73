// file.go — жизненный цикл записей файлов: создание, чтение,
// пометка на удаление, восстановление, безвозвратное удаление.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filevault/internal/domain/model"
	"github.com/bigkaa/filevault/internal/domain/policy"
	"github.com/bigkaa/filevault/internal/repository"
)

// fileLifecycleTotal — успешные переходы жизненного цикла.
var fileLifecycleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fv_file_lifecycle_total",
	Help: "Количество успешных операций жизненного цикла файлов.",
}, []string{"operation"})

// validate — singleton-валидатор; имена полей берутся из json-тегов.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// CreateInput — параметры создания записи файла.
type CreateInput struct {
	Name       string            `json:"name" validate:"required,max=255"`
	Type       model.ContentType `json:"type" validate:"required,oneof=image pdf csv"`
	ContentRef string            `json:"content_ref" validate:"required,max=512"`
}

// BlobDeleter — удаление содержимого после purge.
type BlobDeleter interface {
	Delete(ctx context.Context, ref string) error
}

// FileService — операции над записями файлов с проверкой политики.
type FileService struct {
	files  repository.FileRepository
	blobs  BlobDeleter
	now    func() time.Time
	logger *slog.Logger
}

// NewFileService создаёт сервис файлов. blobs может быть nil —
// тогда содержимое после purge не удаляется.
func NewFileService(
	files repository.FileRepository,
	blobs BlobDeleter,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		files:  files,
		blobs:  blobs,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "file_service")),
	}
}

// Create создаёт запись в пространстве principal'а.
func (s *FileService) Create(ctx context.Context, actor model.Identity, in CreateInput) (*model.FileRecord, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}

	in.Name = strings.TrimSpace(in.Name)
	in.ContentRef = strings.TrimSpace(in.ContentRef)
	if err := validate.Struct(in); err != nil {
		return nil, formatValidationError(err)
	}

	f := &model.FileRecord{
		ID:         uuid.NewString(),
		SpaceID:    actor.SpaceID,
		UploaderID: actor.PrincipalID,
		Name:       in.Name,
		Type:       in.Type,
		ContentRef: in.ContentRef,
		CreatedAt:  s.now(),
	}
	if err := s.files.Create(ctx, f); err != nil {
		return nil, mapRepoError("создание файла", err)
	}

	fileLifecycleTotal.WithLabelValues("create").Inc()
	s.logger.Info("Файл создан",
		slog.String("file_id", f.ID),
		slog.String("space_id", f.SpaceID),
		slog.String("uploader_id", f.UploaderID),
		slog.String("type", string(f.Type)),
	)
	return f, nil
}

// Get возвращает запись, если principal может её читать.
// Файл чужого пространства неотличим от отсутствующего.
// Запись читается из хранилища: purge и пометки могут прийти
// из другой реплики или из filevault-sweep.
func (s *FileService) Get(ctx context.Context, actor model.Identity, id string) (*model.FileRecord, error) {
	return s.loadAuthorized(ctx, actor, id, model.OpRead)
}

// MarkForDeletion помечает файл на удаление. Повторная пометка — no-op.
func (s *FileService) MarkForDeletion(ctx context.Context, actor model.Identity, id string) (*model.FileRecord, error) {
	return s.setMarked(ctx, actor, id, true)
}

// Restore снимает пометку. Восстановление активного файла — no-op.
// Права проверяются в момент вызова: principal, потерявший роль admin,
// восстановить файл не может.
func (s *FileService) Restore(ctx context.Context, actor model.Identity, id string) (*model.FileRecord, error) {
	return s.setMarked(ctx, actor, id, false)
}

func (s *FileService) setMarked(ctx context.Context, actor model.Identity, id string, marked bool) (*model.FileRecord, error) {
	op, action := model.OpSoftDelete, "mark"
	if !marked {
		op, action = model.OpRestore, "restore"
	}

	f, err := s.loadAuthorized(ctx, actor, id, op)
	if err != nil {
		return nil, err
	}
	if f.MarkedForDeletion == marked {
		return f, nil
	}

	updated, err := s.files.SetMarked(ctx, id, marked, s.now())
	if err != nil {
		return nil, mapRepoError("изменение пометки удаления", err)
	}

	fileLifecycleTotal.WithLabelValues(action).Inc()
	s.logger.Info("Пометка удаления изменена",
		slog.String("file_id", id),
		slog.String("space_id", updated.SpaceID),
		slog.String("actor", actor.PrincipalID),
		slog.Bool("marked_for_deletion", marked),
	)
	return updated, nil
}

// Purge безвозвратно удаляет запись вместе с избранным.
// Повторный вызов возвращает ErrNotFound.
func (s *FileService) Purge(ctx context.Context, actor model.Identity, id string) error {
	if _, err := s.loadAuthorized(ctx, actor, id, model.OpPurge); err != nil {
		return err
	}
	return s.purge(ctx, actor, id, nil)
}

// PurgeIfExpired удаляет запись, только если она всё ещё помечена
// и помечена не позже cutoff. Возвращает false, если удалять нечего.
func (s *FileService) PurgeIfExpired(ctx context.Context, actor model.Identity, id string, cutoff time.Time) (bool, error) {
	if _, err := s.loadAuthorized(ctx, actor, id, model.OpPurge); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := s.purge(ctx, actor, id, &cutoff); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *FileService) purge(ctx context.Context, actor model.Identity, id string, markedBefore *time.Time) error {
	deleted, err := s.files.Delete(ctx, id, markedBefore)
	if err != nil {
		return mapRepoError("удаление файла", err)
	}

	fileLifecycleTotal.WithLabelValues("purge").Inc()
	s.logger.Info("Файл удалён безвозвратно",
		slog.String("file_id", id),
		slog.String("space_id", deleted.SpaceID),
		slog.String("actor", actor.PrincipalID),
	)

	// Запись уже удалена: ошибка blob-хранилища только логируется.
	if s.blobs != nil && deleted.ContentRef != "" {
		if err := s.blobs.Delete(ctx, deleted.ContentRef); err != nil {
			s.logger.Warn("Не удалось удалить содержимое файла",
				slog.String("file_id", id),
				slog.String("content_ref", deleted.ContentRef),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// loadAuthorized читает актуальную запись и проверяет политику.
func (s *FileService) loadAuthorized(ctx context.Context, actor model.Identity, id string, op model.Operation) (*model.FileRecord, error) {
	if err := requireIdentity(actor); err != nil {
		return nil, err
	}
	f, err := s.files.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError("получение файла", err)
	}
	if err := authorize(actor, f, op); err != nil {
		s.logger.Debug("Операция отклонена политикой",
			slog.String("file_id", id),
			slog.String("operation", string(op)),
			slog.String("actor", actor.PrincipalID),
			slog.String("role", string(actor.Role)),
		)
		return nil, err
	}
	return f, nil
}

// authorize переводит решение политики в ошибку сервиса.
func authorize(actor model.Identity, f *model.FileRecord, op model.Operation) error {
	switch policy.Decide(actor, f, op) {
	case policy.Allow:
		return nil
	case policy.DenyHidden:
		return ErrNotFound
	default:
		return ErrForbidden
	}
}

// requireIdentity отсекает вызовы без контекста principal'а.
func requireIdentity(actor model.Identity) error {
	if actor.PrincipalID == "" || actor.SpaceID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// formatValidationError берёт первое нарушенное правило и называет поле.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "обязательное поле"
	case "oneof":
		msg = fmt.Sprintf("недопустимое значение %q, ожидается одно из: %s", fe.Value(), fe.Param())
	case "max":
		msg = fmt.Sprintf("длина превышает %s", fe.Param())
	default:
		msg = fmt.Sprintf("нарушено правило %s", fe.Tag())
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}
