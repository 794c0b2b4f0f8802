package org

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zashboard.app/internal/auth"
	"zashboard.app/internal/ids"
	"zashboard.app/internal/obs"
)

const (
	maxNameLength = 128
	maxSlugLength = 64
)

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9-]{2,64}$`)
	nonSlugPattern = regexp.MustCompile(`[^a-z0-9]+`)
)

// Service implements organization, membership and team operations.
type Service struct {
	store     Store
	bootstrap Bootstrapper
	now       func() time.Time
	log       zerolog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. bootstrap may be nil when authorization
// seeding is handled elsewhere.
func NewService(store Store, bootstrap Bootstrapper, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("org: store is required")
	}
	s := &Service{
		store:     store,
		bootstrap: bootstrap,
		now:       func() time.Time { return time.Now().UTC() },
		log:       obs.Logger("org"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Slugify derives a URL slug from a display name.
func Slugify(name string) string {
	slug := nonSlugPattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

func validateSize(size string) error {
	if size == "" || slices.Contains(Sizes, size) {
		return nil
	}
	return fmt.Errorf("%w: size must be one of %s", ErrInvalidInput, strings.Join(Sizes, ", "))
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, maxNameLength)
	}
	return nil
}

func validateSlug(slug string) error {
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: slug must be 2-64 characters of a-z, 0-9 or -", ErrInvalidInput)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// CreateOrganization creates an organization owned by ownerID. The owner gets
// a legacy super_admin membership and, through the bootstrapper, the
// organization super_admin role.
func (s *Service) CreateOrganization(ctx context.Context, ownerID string, in OrganizationInput) (Organization, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Organization{}, fmt.Errorf("%w: owner user_id is required", ErrInvalidInput)
	}
	name := deref(in.Name)
	if err := validateName(name); err != nil {
		return Organization{}, err
	}
	slug := strings.ToLower(deref(in.Slug))
	if slug == "" {
		slug = Slugify(name)
	}
	if err := validateSlug(slug); err != nil {
		return Organization{}, err
	}
	size := deref(in.Size)
	if err := validateSize(size); err != nil {
		return Organization{}, err
	}
	settings := in.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	now := s.now()
	o := Organization{
		ID:          ids.NewWithPrefix(ids.PrefixOrganization),
		Name:        name,
		Slug:        slug,
		Description: deref(in.Description),
		Size:        size,
		Settings:    settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := Membership{
		ID:             ids.NewWithPrefix(ids.PrefixMembership),
		OrganizationID: o.ID,
		UserID:         ownerID,
		Role:           auth.LegacySuperAdmin,
		CreatedAt:      now,
	}
	if err := s.store.CreateOrganization(ctx, &o, owner); err != nil {
		return Organization{}, err
	}
	if s.bootstrap != nil {
		if err := s.bootstrap.BootstrapOrganization(ctx, o.ID, ownerID); err != nil {
			s.log.Error().Err(err).Str("organization_id", o.ID).Msg("bootstrap organization roles failed")
			// Roles and memberships cascade with the organization.
			if derr := s.store.DeleteOrganization(context.WithoutCancel(ctx), o.ID); derr != nil {
				s.log.Error().Err(derr).Str("organization_id", o.ID).Msg("roll back organization failed")
			}
			return Organization{}, fmt.Errorf("bootstrap organization: %w", err)
		}
	}
	s.log.Info().Str("organization_id", o.ID).Str("owner_id", ownerID).Msg("organization created")
	return o, nil
}

// ListOrganizations returns every organization; callers restrict it to platform admins.
func (s *Service) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.store.ListOrganizations(ctx)
}

// ListOrganizationsForUser returns the organizations the user belongs to.
func (s *Service) ListOrganizationsForUser(ctx context.Context, userID string) ([]Organization, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.ListOrganizationsForUser(ctx, userID)
}

func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.GetOrganization(ctx, id)
}

// UpdateOrganization applies the non-nil fields of in. Settings keys are merged.
func (s *Service) UpdateOrganization(ctx context.Context, id string, in OrganizationInput) (Organization, error) {
	o, err := s.GetOrganization(ctx, id)
	if err != nil {
		return Organization{}, err
	}
	if in.Name != nil {
		name := deref(in.Name)
		if err := validateName(name); err != nil {
			return Organization{}, err
		}
		o.Name = name
	}
	if in.Slug != nil {
		slug := strings.ToLower(deref(in.Slug))
		if err := validateSlug(slug); err != nil {
			return Organization{}, err
		}
		o.Slug = slug
	}
	if in.Description != nil {
		o.Description = deref(in.Description)
	}
	if in.Size != nil {
		size := deref(in.Size)
		if err := validateSize(size); err != nil {
			return Organization{}, err
		}
		o.Size = size
	}
	if len(in.Settings) > 0 {
		if o.Settings == nil {
			o.Settings = map[string]any{}
		}
		for k, v := range in.Settings {
			if v == nil {
				delete(o.Settings, k)
				continue
			}
			o.Settings[k] = v
		}
	}
	o.UpdatedAt = s.now()
	if err := s.store.UpdateOrganization(ctx, &o); err != nil {
		return Organization{}, err
	}
	return o, nil
}

func (s *Service) DeleteOrganization(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteOrganization(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("organization_id", id).Msg("organization deleted")
	return nil
}

// AddMember creates a membership with the given legacy role (empty means user).
func (s *Service) AddMember(ctx context.Context, orgID, userID string, role auth.LegacyRole) (Membership, error) {
	orgID, userID = strings.TrimSpace(orgID), strings.TrimSpace(userID)
	if orgID == "" {
		return Membership{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if userID == "" {
		return Membership{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	role, err := auth.ParseLegacyRole(string(role))
	if err != nil {
		return Membership{}, err
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return Membership{}, err
	}
	m := Membership{
		ID:             ids.NewWithPrefix(ids.PrefixMembership),
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		CreatedAt:      s.now(),
	}
	if err := s.store.AddMember(ctx, m); err != nil {
		return Membership{}, err
	}
	return m, nil
}

func (s *Service) RemoveMember(ctx context.Context, orgID, userID string) error {
	orgID, userID = strings.TrimSpace(orgID), strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return fmt.Errorf("%w: organization_id and user_id are required", ErrInvalidInput)
	}
	return s.store.RemoveMember(ctx, orgID, userID)
}

func (s *Service) ListMembers(ctx context.Context, orgID string) ([]Membership, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListMembers(ctx, orgID)
}

// GetMembership returns the membership of userID in orgID.
func (s *Service) GetMembership(ctx context.Context, orgID, userID string) (Membership, error) {
	return s.store.GetMembership(ctx, strings.TrimSpace(orgID), strings.TrimSpace(userID))
}

// UpdateMemberRole rewrites the legacy membership role.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, userID string, role auth.LegacyRole) error {
	orgID, userID = strings.TrimSpace(orgID), strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return fmt.Errorf("%w: organization_id and user_id are required", ErrInvalidInput)
	}
	role, err := auth.ParseLegacyRole(string(role))
	if err != nil {
		return err
	}
	return s.store.UpdateMemberRole(ctx, orgID, userID, role)
}

// SyncLegacyRole keeps the legacy membership column aligned with the user's
// highest organization role level. Users without a membership are ignored.
func (s *Service) SyncLegacyRole(ctx context.Context, orgID, userID string, level int) error {
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	role := auth.LegacyRoleForLevel(level)
	if m.Role == role {
		return nil
	}
	return s.store.UpdateMemberRole(ctx, orgID, userID, role)
}

// MembershipRole implements auth.LegacySource.
func (s *Service) MembershipRole(ctx context.Context, userID, orgID string) (auth.LegacyRole, bool, error) {
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Role, true, nil
}

func (s *Service) CreateTeam(ctx context.Context, orgID string, in TeamInput) (Team, error) {
	orgID = strings.TrimSpace(orgID)
	name := strings.TrimSpace(in.Name)
	if orgID == "" {
		return Team{}, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	if err := validateName(name); err != nil {
		return Team{}, err
	}
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return Team{}, err
	}
	t := Team{
		ID:             ids.NewWithPrefix(ids.PrefixTeam),
		OrganizationID: orgID,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateTeam(ctx, &t); err != nil {
		return Team{}, err
	}
	return t, nil
}

func (s *Service) ListTeams(ctx context.Context, orgID string) ([]Team, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", ErrInvalidInput)
	}
	return s.store.ListTeams(ctx, orgID)
}

func (s *Service) DeleteTeam(ctx context.Context, orgID, teamID string) error {
	return s.store.DeleteTeam(ctx, strings.TrimSpace(orgID), strings.TrimSpace(teamID))
}

// AddTeamMember adds an existing organization member to a team of the same organization.
func (s *Service) AddTeamMember(ctx context.Context, orgID, teamID, userID string) (TeamMember, error) {
	orgID, teamID, userID = strings.TrimSpace(orgID), strings.TrimSpace(teamID), strings.TrimSpace(userID)
	if userID == "" {
		return TeamMember{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	team, err := s.store.GetTeam(ctx, orgID, teamID)
	if err != nil {
		return TeamMember{}, err
	}
	if _, err := s.store.GetMembership(ctx, orgID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TeamMember{}, fmt.Errorf("%w: user_id is not a member of the organization", ErrInvalidInput)
		}
		return TeamMember{}, err
	}
	m := TeamMember{TeamID: team.ID, UserID: userID, AddedAt: s.now()}
	if err := s.store.AddTeamMember(ctx, m); err != nil {
		return TeamMember{}, err
	}
	return m, nil
}

func (s *Service) RemoveTeamMember(ctx context.Context, orgID, teamID, userID string) error {
	team, err := s.store.GetTeam(ctx, strings.TrimSpace(orgID), strings.TrimSpace(teamID))
	if err != nil {
		return err
	}
	return s.store.RemoveTeamMember(ctx, team.ID, strings.TrimSpace(userID))
}

// ListTeamMembers returns the members of a team in orgID.
func (s *Service) ListTeamMembers(ctx context.Context, orgID, teamID string) ([]TeamMember, error) {
	team, err := s.store.GetTeam(ctx, strings.TrimSpace(orgID), strings.TrimSpace(teamID))
	if err != nil {
		return nil, err
	}
	return s.store.ListTeamMembers(ctx, team.ID)
}
