package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	DefaultKeyringService = "copilot-gateway"
	DefaultKeyringUser    = "github"
)

// KeyringStore keeps the credential in the operating system keyring as a single JSON secret.
type KeyringStore struct {
	service string
	user    string
}

func NewKeyringStore(service, user string) *KeyringStore {
	if service == "" {
		service = DefaultKeyringService
	}

	if user == "" {
		user = DefaultKeyringUser
	}

	return &KeyringStore{service: service, user: user}
}

func (s *KeyringStore) Load(_ context.Context) (*Credential, error) {
	secret, err := keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read keyring: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(secret), &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}

	if cred.AccessToken == "" {
		return nil, ErrNotFound
	}

	return &cred, nil
}

func (s *KeyringStore) Save(_ context.Context, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	if err := keyring.Set(s.service, s.user, string(data)); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}

	return nil
}

func (s *KeyringStore) Clear(_ context.Context) error {
	if err := keyring.Delete(s.service, s.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete keyring entry: %w", err)
	}

	return nil
}
