package enums

import "fmt"

// ActorRole is the caller role carried in access tokens. Admin and service
// callers may use the admin credit routes; users only reach their own wallet.
type ActorRole string

const (
	ActorRoleUser    ActorRole = "user"
	ActorRoleAdmin   ActorRole = "admin"
	ActorRoleService ActorRole = "service"
)

func (r ActorRole) String() string {
	return string(r)
}

func (r ActorRole) IsValid() bool {
	switch r {
	case ActorRoleUser, ActorRoleAdmin, ActorRoleService:
		return true
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	role := ActorRole(value)
	if !role.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", value)
	}
	return role, nil
}
