// Пакет policy — единая точка авторизации операций над файлами.
// Правила применяются по порядку:
//  1. Файл из чужого пространства — запрещено всё.
//  2. read, favorite-toggle — любой участник пространства.
//  3. soft-delete, restore, purge — только admin.
//
// Решение не кэшируется: роль и пространство могут измениться между вызовами.
package policy

import "github.com/bigkaa/filevault/internal/domain/model"

// Decision — результат проверки политики.
type Decision int

const (
	// Allow — операция разрешена.
	Allow Decision = iota
	// DenyHidden — файл вне пространства; наружу отдаётся как «не найден».
	DenyHidden
	// DenyForbidden — файл виден, но роли недостаточно.
	DenyForbidden
)

// adminOnly — операции, требующие роли admin.
var adminOnly = map[model.Operation]bool{
	model.OpSoftDelete: true,
	model.OpRestore:    true,
	model.OpPurge:      true,
}

// memberOps — операции, доступные любому участнику пространства.
var memberOps = map[model.Operation]bool{
	model.OpRead:           true,
	model.OpFavoriteToggle: true,
}

// Decide возвращает решение для principal'а, файла и операции.
// Неизвестная операция запрещается.
func Decide(id model.Identity, file *model.FileRecord, op model.Operation) Decision {
	if file == nil || id.SpaceID == "" || file.SpaceID != id.SpaceID {
		return DenyHidden
	}
	if memberOps[op] {
		return Allow
	}
	if adminOnly[op] && id.Role == model.RoleAdmin {
		return Allow
	}
	return DenyForbidden
}

// CanPerform — булев предикат поверх Decide.
func CanPerform(id model.Identity, file *model.FileRecord, op model.Operation) bool {
	return Decide(id, file, op) == Allow
}

// CanListDeleted проверяет доступ к выдаче помеченных на удаление файлов.
func CanListDeleted(id model.Identity) bool {
	return id.Role == model.RoleAdmin
}
