package rbac

type Role string
type Action string

const (
	RoleContributor Role = "contributor"
	RoleProvider    Role = "provider"
	RoleEditor      Role = "editor"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionExtract Action = "extract"
	ActionUpload  Action = "upload"
	ActionCurate  Action = "curate"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionExtract || action == ActionUpload || action == ActionCurate
	case RoleProvider:
		return action == ActionRead || action == ActionExtract || action == ActionUpload
	case RoleContributor:
		return action == ActionRead || action == ActionExtract
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleContributor, RoleProvider, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleContributor
	}
}

// Has reports whether the group set contains the given role.
func Has(groups []string, role Role) bool {
	for _, g := range groups {
		if Role(g) == role {
			return true
		}
	}
	return false
}

// Privileged reports whether the group set carries editor or admin rights.
// Privileged actors may self-verify and may curate items at any stage.
func Privileged(groups []string) bool {
	return Has(groups, RoleEditor) || Has(groups, RoleAdmin)
}

// CanAny reports whether any role in the group set permits the action.
func CanAny(groups []string, action Action) bool {
	for _, g := range groups {
		if Can(Normalize(g), action) {
			return true
		}
	}
	return false
}
