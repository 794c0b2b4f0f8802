package org

import (
	"time"

	"zashboard.app/internal/auth"
)

// Errors shared with the authorization layer so callers map them uniformly.
var (
	ErrInvalidInput = auth.ErrInvalidInput
	ErrNotFound     = auth.ErrNotFound
	ErrConflict     = auth.ErrConflict
)

// Allowed organization sizes. Empty means unspecified.
var Sizes = []string{"1-10", "11-50", "51-200", "201-1000", "1000+"}

// Organization is a tenant.
type Organization struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description,omitempty"`
	Size        string         `json:"size,omitempty"`
	Settings    map[string]any `json:"settings"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Membership links a user to an organization with the coarse legacy role.
type Membership struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id"`
	Role           auth.LegacyRole `json:"role"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Team groups members of one organization.
type Team struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TeamMember places an organization member in a team.
type TeamMember struct {
	TeamID  string    `json:"team_id"`
	UserID  string    `json:"user_id"`
	AddedAt time.Time `json:"added_at"`
}

// OrganizationInput carries create and update fields. Nil pointers are left unchanged on update.
type OrganizationInput struct {
	Name        *string        `json:"name"`
	Slug        *string        `json:"slug"`
	Description *string        `json:"description"`
	Size        *string        `json:"size"`
	Settings    map[string]any `json:"settings"`
}

// TeamInput carries team creation fields.
type TeamInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
