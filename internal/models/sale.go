package models

import "time"

type Sale struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CompanyID    string    `json:"companyId"`
	TechnologyID string    `json:"technologyId"`
	VisitID      *string   `json:"visitId"`
	ValueCents   *int64    `json:"valueCents"`
	Notes        *string   `json:"notes"`
	CreatedAt    time.Time `json:"createdAt"`
}

type CreateSaleRequest struct {
	VisitID      *string `json:"visitId,omitempty"`
	CompanyID    string  `json:"companyId"`
	TechnologyID string  `json:"technologyId"`
	ValueCents   *int64  `json:"valueCents,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}
