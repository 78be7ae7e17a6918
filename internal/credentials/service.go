package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinetree-kr/identity-service/internal/directory"
	"github.com/pinetree-kr/identity-service/internal/identity"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("credentials already exist")
)

// Service handles the email/password provider. It produces profiles for
// the same resolution path the OAuth providers use, so the email
// provider is not a special case anywhere downstream.
type Service struct {
	dir directory.Directory
}

func NewService(dir directory.Directory) *Service {
	return &Service{dir: dir}
}

// Register creates email/password credentials. A brand-new email gets a
// fresh account with signup provider "email"; an account that already
// exists from a social signup gains an email credential instead, which
// the resolver later records as a linked provider.
func (s *Service) Register(
	ctx context.Context,
	email string,
	password string,
) (string, error) {

	if len(password) < MinPasswordLength {
		return "", errors.New("password too short")
	}

	existing, err := s.dir.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}

	if existing != nil {
		if existing.Metadata.HasProvider(identity.ProviderEmail) {
			return "", ErrAlreadyRegistered
		}
		if err := s.dir.SetPassword(ctx, existing.ID, password); err != nil {
			return "", fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
		}
		return existing.ID, nil
	}

	md := directory.Metadata{
		SignupProvider:  identity.ProviderEmail,
		LinkedProviders: []string{identity.ProviderEmail},
		ProviderKeys:    map[string]string{identity.ProviderEmail: email},
	}

	accountID, err := s.dir.CreateUser(ctx, email, password, md)
	if err != nil {
		if errors.Is(err, directory.ErrEmailTaken) {
			return "", ErrAlreadyRegistered
		}
		return "", fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	return accountID, nil
}

// Authenticate verifies an email/password pair. The error deliberately
// hides whether the account exists.
func (s *Service) Authenticate(
	ctx context.Context,
	email string,
	password string,
) (string, error) {

	accountID, err := s.dir.VerifyEmailCredential(ctx, email, password)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("%w: %w", identity.ErrDirectoryUnavailable, err)
	}
	return accountID, nil
}

// Profile builds the synthetic provider profile an authenticated
// email/password login feeds into the resolver. The email itself is the
// provider-scoped user id.
func Profile(email string) *identity.Profile {
	return &identity.Profile{
		Provider:       identity.ProviderEmail,
		ProviderUserID: email,
		Email:          email,
		EmailVerified:  true,
	}
}
