package org

import (
	"context"

	"zashboard.app/internal/auth"
)

// Store persists organizations, memberships and teams.
type Store interface {
	// CreateOrganization stores the organization and its owner membership atomically.
	CreateOrganization(ctx context.Context, o *Organization, owner Membership) error
	GetOrganization(ctx context.Context, id string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]Organization, error)
	UpdateOrganization(ctx context.Context, o *Organization) error
	// DeleteOrganization removes the organization and everything scoped to it.
	DeleteOrganization(ctx context.Context, id string) error

	AddMember(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, orgID, userID string) (Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]Membership, error)
	UpdateMemberRole(ctx context.Context, orgID, userID string, role auth.LegacyRole) error
	// RemoveMember also drops the user's team memberships and role assignments in the organization.
	RemoveMember(ctx context.Context, orgID, userID string) error

	CreateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, orgID, teamID string) (Team, error)
	ListTeams(ctx context.Context, orgID string) ([]Team, error)
	DeleteTeam(ctx context.Context, orgID, teamID string) error
	AddTeamMember(ctx context.Context, m TeamMember) error
	RemoveTeamMember(ctx context.Context, teamID, userID string) error
	ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error)
}

// Bootstrapper seeds authorization state for a new organization.
type Bootstrapper interface {
	BootstrapOrganization(ctx context.Context, orgID, ownerUserID string) error
}
