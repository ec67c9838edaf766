package mapper

import (
	"fmt"
	"time"

	"signalsync/internal/models"
	"signalsync/internal/remote"
)

func EntrepriseToRemote(e models.Entreprise, now time.Time) (remote.Fields, Losses) {
	var losses Losses
	specialites := e.Specialites
	if specialites == nil {
		specialites = []string{}
	}
	fields := remote.Fields{
		"id":                  e.ID,
		"nom":                 e.Nom,
		"siret":               optString(e.Siret),
		"telephone":           optString(e.Telephone),
		"email":               optString(e.Email),
		"adresse":             optString(e.Adresse),
		"specialites":         specialites,
		"isActive":            e.IsActive,
		"noteMoyenne":         nil,
		"nombreInterventions": e.NombreInterventions,
		"createdAt":           optTime(e.CreatedAt),
		"updatedAt":           optTime(e.UpdatedAt),
		"syncedAt":            now.UTC(),
	}
	if e.NoteMoyenne != nil {
		fields["noteMoyenne"] = toFloat("noteMoyenne", *e.NoteMoyenne, &losses)
	}
	return fields, losses
}

func ApplyEntrepriseFields(e models.Entreprise, f remote.Fields) (models.Entreprise, error) {
	if v, present, err := requiredString(f, "nom"); err != nil {
		return e, err
	} else if present {
		e.Nom = v
	}
	for key, dst := range map[string]**string{
		"siret":     &e.Siret,
		"telephone": &e.Telephone,
		"email":     &e.Email,
		"adresse":   &e.Adresse,
	} {
		v, present, err := stringField(f, key)
		if err != nil {
			return e, err
		}
		if present {
			*dst = v
		}
	}
	if v, present, err := boolField(f, "isActive"); err != nil {
		return e, err
	} else if present && v != nil {
		e.IsActive = *v
	}
	if v, present, err := stringsField(f, "specialites"); err != nil {
		return e, err
	} else if present {
		e.Specialites = v
	}
	if v, present, err := decimalField(f, "noteMoyenne", ScaleNote); err != nil {
		return e, err
	} else if present {
		e.NoteMoyenne = v
	}
	if v, present, err := int64Field(f, "nombreInterventions"); err != nil {
		return e, err
	} else if present && v != nil {
		e.NombreInterventions = int(*v)
	}
	return e, nil
}

// BuildEntreprise constructs a local entreprise from a remote-origin document.
func BuildEntreprise(f remote.Fields, now time.Time) (models.Entreprise, error) {
	e := models.Entreprise{IsActive: true, CreatedAt: now, UpdatedAt: now}
	if !f.Has("nom") {
		return e, fmt.Errorf("%w: nom: required", ErrInvalidField)
	}
	return ApplyEntrepriseFields(e, f)
}
