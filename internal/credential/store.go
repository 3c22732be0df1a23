package credential

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no credential has been stored.
var ErrNotFound = errors.New("credential not found")

// Account is the GitHub identity the credential was issued for.
type Account struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

// Credential is the delegated upstream credential: a long-lived GitHub access token and
// the short-lived Copilot session token derived from it.
type Credential struct {
	AccessToken      string    `json:"accessToken"`
	SessionToken     string    `json:"sessionToken,omitempty"`
	SessionExpiresAt time.Time `json:"sessionExpiresAt,omitzero"`
	Account          Account   `json:"user"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// SessionUsable reports whether the session token can be handed out at now, i.e. it exists
// and stays valid for longer than margin.
func (c Credential) SessionUsable(now time.Time, margin time.Duration) bool {
	if c.SessionToken == "" {
		return false
	}

	return c.SessionExpiresAt.Sub(now) > margin
}

// Store persists a single Credential.
type Store interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, cred Credential) error
	Clear(ctx context.Context) error
}
