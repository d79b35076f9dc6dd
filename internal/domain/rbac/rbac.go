// Пакет rbac — определение роли вызывающего по данным внешнего IdP.
// Роль нужна ядру только в одном месте: администратор может удалять
// чужие документы и видеть документы с ограниченной видимостью.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleMember: 1,
	RoleAdmin:  2,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Неизвестные роли игнорируются; пустой набор — RoleMember.
func HighestRole(roles []string) string {
	highest := RoleMember
	for _, r := range roles {
		if IsValidRole(r) {
			highest = maxRole(highest, r)
		}
	}
	return highest
}

// ResolveRole определяет роль по группам и realm-ролям IdP.
// Членство в одной из adminGroups или realm-роль admin дают RoleAdmin.
func ResolveRole(groups, realmRoles, adminGroups []string) string {
	adminSet := toSet(adminGroups)
	roles := make([]string, 0, len(groups)+len(realmRoles))
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
	}
	roles = append(roles, realmRoles...)
	return HighestRole(roles)
}

// IsAdmin сообщает, является ли роль административной.
func IsAdmin(role string) bool {
	return role == RoleAdmin
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
