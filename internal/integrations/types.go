package integrations

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"zashboard.app/internal/auth"
)

var (
	ErrInvalidInput = auth.ErrInvalidInput
	ErrNotFound     = auth.ErrNotFound
	// ErrSyncInProgress is returned when another sync already holds the connection.
	ErrSyncInProgress = errors.New("integrations: sync already in progress")
)

// Provider names an external data source.
type Provider string

const (
	ProviderNotion    Provider = "notion"
	ProviderSlack     Provider = "slack"
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderNotion, ProviderSlack, ProviderGoogle, ProviderMicrosoft}

// ParseProvider validates a provider name.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(Providers, p) {
		return "", fmt.Errorf("%w: provider must be one of notion, slack, google, microsoft", ErrInvalidInput)
	}
	return p, nil
}

// Status is the sync state of a connection.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Connection is an organization's link to a provider.
type Connection struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Provider       Provider   `json:"provider"`
	Status         Status     `json:"status"`
	SealedToken    []byte     `json:"-"`
	ItemsSynced    int        `json:"items_synced"`
	LastError      string     `json:"last_error,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Result is the outcome of one sync run.
type Result struct {
	Status      Status
	ItemsSynced int
	Error       string
	FinishedAt  time.Time
}

// Store persists connections.
type Store interface {
	GetConnection(ctx context.Context, orgID string, provider Provider) (Connection, error)
	ListConnections(ctx context.Context, orgID string) ([]Connection, error)
	// UpsertConnection creates or replaces the token of the (organization, provider)
	// connection without touching its sync state.
	UpsertConnection(ctx context.Context, c *Connection) error
	// ClaimSync moves a connection into syncing and reports whether this caller
	// won the claim. A connection already syncing is claimable only when its
	// last update is before staleBefore.
	ClaimSync(ctx context.Context, orgID string, provider Provider, now, staleBefore time.Time) (Connection, bool, error)
	FinishSync(ctx context.Context, orgID string, provider Provider, res Result) error
}
