package pgdir

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/pinetree-kr/identity-service/internal/credentials"
	"github.com/pinetree-kr/identity-service/internal/directory"
)

const assertionTTL = 10 * time.Minute

// Directory is a Postgres-backed identity directory for self-hosted
// deployments. The schema's uniqueness constraints enforce the
// one-account-per-email and one-account-per-provider-identity rules at
// the storage level.
type Directory struct {
	db *sql.DB
}

func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*directory.Account, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, email, signup_provider, last_login, extras
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
		  AND deleted_at IS NULL
	`, email)
	return d.scanAccount(ctx, row)
}

func (d *Directory) FindByID(ctx context.Context, accountID string) (*directory.Account, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, email, signup_provider, last_login, extras
		FROM accounts
		WHERE id = $1
		  AND deleted_at IS NULL
	`, accountID)
	return d.scanAccount(ctx, row)
}

func (d *Directory) FindByProviderID(ctx context.Context, provider, providerUserID string) (*directory.Account, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT a.id, a.email, a.signup_provider, a.last_login, a.extras
		FROM accounts a
		JOIN account_identities i ON i.account_id = a.id
		WHERE i.provider = $1
		  AND i.provider_user_id = $2
		  AND a.deleted_at IS NULL
	`, provider, providerUserID)
	return d.scanAccount(ctx, row)
}

func (d *Directory) scanAccount(ctx context.Context, row *sql.Row) (*directory.Account, error) {
	var (
		id        uuid.UUID
		email     string
		signup    string
		lastLogin sql.NullTime
		rawExtras []byte
	)

	err := row.Scan(&id, &email, &signup, &lastLogin, &rawExtras)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	extras := make(map[string]string)
	if len(rawExtras) > 0 {
		if err := json.Unmarshal(rawExtras, &extras); err != nil {
			return nil, fmt.Errorf("pgdir: malformed extras for account %s: %w", id, err)
		}
	}

	acct := &directory.Account{
		ID:    id.String(),
		Email: email,
		Metadata: directory.Metadata{
			SignupProvider: signup,
			ProviderKeys:   make(map[string]string),
			Extras:         extras,
		},
	}
	if lastLogin.Valid {
		acct.Metadata.LastLogin = lastLogin.Time
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT provider, provider_user_id
		FROM account_identities
		WHERE account_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var provider, providerUserID string
		if err := rows.Scan(&provider, &providerUserID); err != nil {
			return nil, err
		}
		acct.Metadata.LinkedProviders = append(acct.Metadata.LinkedProviders, provider)
		acct.Metadata.ProviderKeys[provider] = providerUserID
	}
	return acct, rows.Err()
}

// CreateUser inserts a new account. A concurrent duplicate loses the
// insert race and gets ErrEmailTaken instead of a silent overwrite.
func (d *Directory) CreateUser(ctx context.Context, email, credential string, md directory.Metadata) (string, error) {
	hash, _, err := credentials.HashPassword(credential)
	if err != nil {
		return "", fmt.Errorf("pgdir: failed to hash credential: %w", err)
	}

	extras := md.Extras
	if extras == nil {
		extras = map[string]string{}
	}
	rawExtras, err := json.Marshal(extras)
	if err != nil {
		return "", err
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var lastLogin sql.NullTime
	if !md.LastLogin.IsZero() {
		lastLogin = sql.NullTime{Time: md.LastLogin, Valid: true}
	}

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (email, password_hash, signup_provider, last_login, extras)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ((LOWER(email))) WHERE deleted_at IS NULL DO NOTHING
		RETURNING id
	`, email, hash, md.SignupProvider, lastLogin, rawExtras).Scan(&id)

	if err == sql.ErrNoRows {
		return "", directory.ErrEmailTaken
	}
	if err != nil {
		return "", err
	}

	for provider, providerUserID := range md.ProviderKeys {
		if err := attachIdentity(ctx, tx, id.String(), provider, providerUserID); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id.String(), nil
}

// UpdateMetadata merges patch into the account. The linked set is
// derived from account_identities rows, so providers are attached
// through patch.ProviderKeys; patch.AddProviders carries no extra
// information here.
func (d *Directory) UpdateMetadata(ctx context.Context, accountID string, patch directory.Patch) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for provider, providerUserID := range patch.ProviderKeys {
		if err := attachIdentity(ctx, tx, accountID, provider, providerUserID); err != nil {
			return err
		}
	}

	for _, provider := range patch.RemoveProviders {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM account_identities
			WHERE account_id = $1
			  AND provider = $2
		`, accountID, provider)
		if err != nil {
			return err
		}
	}

	if patch.LastLogin != nil || len(patch.Extras) > 0 {
		extras := patch.Extras
		if extras == nil {
			extras = map[string]string{}
		}
		rawExtras, err := json.Marshal(extras)
		if err != nil {
			return err
		}

		var lastLogin sql.NullTime
		if patch.LastLogin != nil {
			lastLogin = sql.NullTime{Time: *patch.LastLogin, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE accounts
			SET last_login = COALESCE($2, last_login),
			    extras = extras || $3::jsonb,
			    updated_at = NOW()
			WHERE id = $1
			  AND deleted_at IS NULL
		`, accountID, lastLogin, rawExtras)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// attachIdentity inserts the identity edge if absent and verifies the
// row ended up owned by accountID. A concurrent attach to another
// account surfaces as ErrIdentityTaken, never a silent steal.
func attachIdentity(ctx context.Context, tx *sql.Tx, accountID, provider, providerUserID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO account_identities (account_id, provider, provider_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_user_id) DO NOTHING
	`, accountID, provider, providerUserID)
	if err != nil {
		return err
	}

	var owner uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT account_id
		FROM account_identities
		WHERE provider = $1
		  AND provider_user_id = $2
	`, provider, providerUserID).Scan(&owner)
	if err != nil {
		return err
	}
	if owner.String() != accountID {
		return directory.ErrIdentityTaken
	}
	return nil
}

func (d *Directory) SetPassword(ctx context.Context, accountID, credential string) error {
	hash, _, err := credentials.HashPassword(credential)
	if err != nil {
		return err
	}

	res, err := d.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1
		  AND deleted_at IS NULL
	`, accountID, hash)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pgdir: account %s not found", accountID)
	}
	return nil
}

func (d *Directory) VerifyEmailCredential(ctx context.Context, email, credential string) (string, error) {
	var (
		id   uuid.UUID
		hash string
	)

	err := d.db.QueryRowContext(ctx, `
		SELECT id, password_hash
		FROM accounts
		WHERE LOWER(email) = LOWER($1)
		  AND deleted_at IS NULL
	`, email).Scan(&id, &hash)

	if err == sql.ErrNoRows {
		return "", directory.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := credentials.VerifyPassword(hash, credential); err != nil {
		return "", directory.ErrInvalidCredentials
	}
	return id.String(), nil
}

func (d *Directory) GenerateSessionAssertion(ctx context.Context, accountID, email, redirectTarget string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("pgdir: failed to generate assertion token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(b)

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO session_assertions (token, account_id, redirect_target, expires_at)
		VALUES ($1, $2, $3, NOW() + $4::interval)
	`, token, accountID, redirectTarget, fmt.Sprintf("%d seconds", int(assertionTTL.Seconds())))
	if err != nil {
		return "", err
	}

	target, err := url.Parse(redirectTarget)
	if err != nil {
		return "", fmt.Errorf("pgdir: invalid redirect target: %w", err)
	}
	q := target.Query()
	q.Set("token", token)
	target.RawQuery = q.Encode()
	return target.String(), nil
}

func (d *Directory) ProviderIdentities(ctx context.Context, accountID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT provider
		FROM account_identities
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
