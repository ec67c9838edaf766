package mapper

import (
	"time"

	"signalsync/internal/models"
	"signalsync/internal/remote"
)

func StatusToRemote(s models.SignalementStatus, now time.Time) (remote.Fields, Losses) {
	return remote.Fields{
		"id":          s.ID,
		"code":        s.Code,
		"libelle":     s.Libelle,
		"description": optString(s.Description),
		"ordre":       s.Ordre,
		"color":       optString(s.Couleur),
		"syncedAt":    now.UTC(),
	}, nil
}

// ApplyStatusFields updates the display attributes of a status. The code is
// the document key and never changes from the remote side.
func ApplyStatusFields(s models.SignalementStatus, f remote.Fields) (models.SignalementStatus, error) {
	if v, present, err := requiredString(f, "libelle"); err != nil {
		return s, err
	} else if present {
		s.Libelle = v
	}
	if v, present, err := stringField(f, "description"); err != nil {
		return s, err
	} else if present {
		s.Description = v
	}
	if v, present, err := stringField(f, "color"); err != nil {
		return s, err
	} else if present {
		s.Couleur = v
	}
	if v, present, err := int64Field(f, "ordre"); err != nil {
		return s, err
	} else if present && v != nil {
		s.Ordre = int(*v)
	}
	return s, nil
}
