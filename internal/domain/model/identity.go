package model

// Role — роль principal'а в пространстве.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Operation — операция над файлом, проверяемая движком политик.
type Operation string

const (
	OpRead           Operation = "read"
	OpFavoriteToggle Operation = "favorite-toggle"
	OpSoftDelete     Operation = "soft-delete"
	OpRestore        Operation = "restore"
	OpPurge          Operation = "purge"
)

// Identity — контекст действующего principal'а для одного запроса.
// Не хранится: вычисляется заново на каждый запрос.
type Identity struct {
	// PrincipalID — sub из токена
	PrincipalID string `json:"principal_id"`
	// SpaceID — org_id или PrincipalID для личного пространства
	SpaceID string `json:"space_id"`
	// Role — member или admin в SpaceID
	Role Role `json:"role"`
	// Personal — true, если организация не активна
	Personal bool `json:"personal"`
}

// IsAdmin возвращает true для роли admin.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
