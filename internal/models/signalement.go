package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signalement is a geolocated issue report.
type Signalement struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	UserEmail       string          `json:"user_email,omitempty"`
	StatusID        int64           `json:"status_id"`
	StatusCode      string          `json:"status_code,omitempty"`
	StatusLibelle   string          `json:"status_libelle,omitempty"`
	EntrepriseID    *int64          `json:"entreprise_id,omitempty"`
	Latitude        decimal.Decimal `json:"latitude"`
	Longitude       decimal.Decimal `json:"longitude"`
	Budget          decimal.Decimal `json:"budget"`
	Surface         decimal.Decimal `json:"surface"`
	Adresse         *string         `json:"adresse,omitempty"`
	Description     string          `json:"description"`
	Niveau          *int            `json:"niveau,omitempty"`
	DateSignalement time.Time       `json:"date_signalement"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	SyncMeta
}

type Entreprise struct {
	ID                  int64            `json:"id"`
	Nom                 string           `json:"nom"`
	Siret               *string          `json:"siret,omitempty"`
	Telephone           *string          `json:"telephone,omitempty"`
	Email               *string          `json:"email,omitempty"`
	Adresse             *string          `json:"adresse,omitempty"`
	Specialites         []string         `json:"specialites"`
	IsActive            bool             `json:"is_active"`
	NoteMoyenne         *decimal.Decimal `json:"note_moyenne,omitempty"`
	NombreInterventions int              `json:"nombre_interventions"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	SyncMeta
}

type SignalementStatus struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Libelle     string    `json:"libelle"`
	Description *string   `json:"description,omitempty"`
	Couleur     *string   `json:"couleur,omitempty"`
	Ordre       int       `json:"ordre"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	SyncMeta
}
