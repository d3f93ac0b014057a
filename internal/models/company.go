package models

import "time"

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   *string   `json:"address,omitempty"`
	Phone     *string   `json:"phone,omitempty"`
	Email     *string   `json:"email,omitempty"`
	NIF       *string   `json:"nif,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateCompanyRequest struct {
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
	Email   *string `json:"email,omitempty"`
	NIF     *string `json:"nif,omitempty"`
}

type Technology struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type CreateTechnologyRequest struct {
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`
}
