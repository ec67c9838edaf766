package mapper

import (
	"fmt"
	"time"

	"signalsync/internal/models"
	"signalsync/internal/remote"

	"github.com/shopspring/decimal"
)

func SignalementToRemote(s models.Signalement, now time.Time) (remote.Fields, Losses) {
	var losses Losses
	fields := remote.Fields{
		"id":              s.ID,
		"description":     s.Description,
		"adresse":         optString(s.Adresse),
		"latitude":        toFloat("latitude", s.Latitude, &losses),
		"longitude":       toFloat("longitude", s.Longitude, &losses),
		"budget":          toFloat("budget", s.Budget, &losses),
		"surface":         toFloat("surface", s.Surface, &losses),
		"statusCode":      nullIfEmpty(s.StatusCode),
		"statusLibelle":   nullIfEmpty(s.StatusLibelle),
		"userId":          s.UserID,
		"userEmail":       nullIfEmpty(s.UserEmail),
		"entrepriseId":    nil,
		"niveau":          nil,
		"dateSignalement": optTime(s.DateSignalement),
		"createdAt":       optTime(s.CreatedAt),
		"updatedAt":       optTime(s.UpdatedAt),
		"syncedAt":        now.UTC(),
	}
	if s.EntrepriseID != nil {
		fields["entrepriseId"] = *s.EntrepriseID
	}
	if s.Niveau != nil {
		fields["niveau"] = *s.Niveau
	}
	return fields, losses
}

// SignalementRefs lists the foreign keys a remote signalement points at.
// A nil pointer with the matching Has flag set is an explicit null.
type SignalementRefs struct {
	UserID        *int64
	StatusCode    *string
	EntrepriseID  *int64
	HasEntreprise bool
}

// StatusCodeOr returns the referenced status code, or def when none is given.
func (r SignalementRefs) StatusCodeOr(def string) string {
	if r.StatusCode == nil || *r.StatusCode == "" {
		return def
	}
	return *r.StatusCode
}

// Resolved carries the local rows the references were resolved to. A nil
// field means the lookup found nothing.
type Resolved struct {
	User       *models.User
	Status     *models.SignalementStatus
	Entreprise *models.Entreprise
}

func RefsOf(f remote.Fields) (SignalementRefs, error) {
	var refs SignalementRefs
	userID, _, err := int64Field(f, "userId")
	if err != nil {
		return refs, err
	}
	refs.UserID = userID

	code, _, err := stringField(f, "statusCode")
	if err != nil {
		return refs, err
	}
	refs.StatusCode = code

	entrepriseID, present, err := int64Field(f, "entrepriseId")
	if err != nil {
		return refs, err
	}
	refs.EntrepriseID = entrepriseID
	refs.HasEntreprise = present
	return refs, nil
}

// ApplySignalementFields updates s from the fields present in f. A status or
// entreprise that the payload references must be present in res.
func ApplySignalementFields(s models.Signalement, f remote.Fields, res Resolved) (models.Signalement, error) {
	refs, err := RefsOf(f)
	if err != nil {
		return s, err
	}

	if v, present, err := requiredString(f, "description"); err != nil {
		return s, err
	} else if present {
		s.Description = v
	}
	if v, present, err := stringField(f, "adresse"); err != nil {
		return s, err
	} else if present {
		s.Adresse = v
	}
	if err := applyDecimal(f, "latitude", ScaleCoordinate, true, &s.Latitude); err != nil {
		return s, err
	}
	if err := applyDecimal(f, "longitude", ScaleCoordinate, true, &s.Longitude); err != nil {
		return s, err
	}
	if err := applyDecimal(f, "budget", ScaleBudget, true, &s.Budget); err != nil {
		return s, err
	}
	if err := applyDecimal(f, "surface", ScaleSurface, true, &s.Surface); err != nil {
		return s, err
	}
	if v, present, err := int64Field(f, "niveau"); err != nil {
		return s, err
	} else if present {
		s.Niveau = toIntPtr(v)
	}

	if refs.StatusCode != nil {
		if res.Status == nil || res.Status.Code != *refs.StatusCode {
			return s, fmt.Errorf("%w: status %q", ErrMissingReference, *refs.StatusCode)
		}
		s.StatusID = res.Status.ID
		s.StatusCode = res.Status.Code
		s.StatusLibelle = res.Status.Libelle
	}
	if refs.HasEntreprise {
		if refs.EntrepriseID == nil {
			s.EntrepriseID = nil
		} else {
			if res.Entreprise == nil || res.Entreprise.ID != *refs.EntrepriseID {
				return s, fmt.Errorf("%w: entreprise %d", ErrMissingReference, *refs.EntrepriseID)
			}
			id := res.Entreprise.ID
			s.EntrepriseID = &id
		}
	}
	return s, nil
}

// BuildSignalement constructs a new local signalement from a remote-origin
// document. Owner and status must be resolved; description and coordinates
// are required.
func BuildSignalement(f remote.Fields, res Resolved, now time.Time) (models.Signalement, error) {
	var s models.Signalement
	refs, err := RefsOf(f)
	if err != nil {
		return s, err
	}
	if refs.UserID == nil {
		return s, fmt.Errorf("%w: userId: required", ErrInvalidField)
	}
	if res.User == nil || res.User.ID != *refs.UserID {
		return s, fmt.Errorf("%w: user %d", ErrMissingReference, *refs.UserID)
	}
	if res.Status == nil {
		return s, fmt.Errorf("%w: status %q", ErrMissingReference, refs.StatusCodeOr(""))
	}
	if refs.StatusCode != nil && *refs.StatusCode != "" && res.Status.Code != *refs.StatusCode {
		return s, fmt.Errorf("%w: status %q", ErrMissingReference, *refs.StatusCode)
	}

	s.UserID = res.User.ID
	s.UserEmail = res.User.Email
	s.StatusID = res.Status.ID
	s.StatusCode = res.Status.Code
	s.StatusLibelle = res.Status.Libelle
	s.DateSignalement = now
	s.CreatedAt = now
	s.UpdatedAt = now

	for _, key := range []string{"description", "latitude", "longitude"} {
		if !f.Has(key) {
			return s, fmt.Errorf("%w: %s: required", ErrInvalidField, key)
		}
	}

	s, err = ApplySignalementFields(s, f, res)
	if err != nil {
		return s, err
	}
	if t, _, err := timeField(f, "dateSignalement"); err != nil {
		return s, err
	} else if t != nil {
		s.DateSignalement = *t
	}
	return s, nil
}

// applyDecimal sets *dst when key is present. Required columns reject null.
func applyDecimal(f remote.Fields, key string, scale int32, required bool, dst *decimal.Decimal) error {
	v, present, err := decimalField(f, key, scale)
	if err != nil || !present {
		return err
	}
	if v == nil {
		if required {
			return fmt.Errorf("%w: %s: required", ErrInvalidField, key)
		}
		*dst = decimal.Zero
		return nil
	}
	*dst = *v
	return nil
}

func toIntPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
