package mapper

import (
	"time"

	"signalsync/internal/models"
	"signalsync/internal/remote"
)

func UserToRemote(u models.User, now time.Time) (remote.Fields, Losses) {
	return remote.Fields{
		"id":          u.ID,
		"email":       u.Email,
		"name":        u.Name,
		"roleCode":    nullIfEmpty(u.RoleCode),
		"roleLibelle": nullIfEmpty(u.RoleLibelle),
		"isLocked":    u.IsLocked,
		"createdAt":   optTime(u.CreatedAt),
		"updatedAt":   optTime(u.UpdatedAt),
		"syncedAt":    now.UTC(),
	}, nil
}

// ApplyUserFields copies the remotely editable profile fields. Identity,
// role and credentials stay local.
func ApplyUserFields(u models.User, f remote.Fields) (models.User, error) {
	if name, present, err := stringField(f, "name"); err != nil {
		return u, err
	} else if present {
		u.Name = deref(name)
	}
	if email, present, err := requiredString(f, "email"); err != nil {
		return u, err
	} else if present {
		u.Email = email
	}
	return u, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
