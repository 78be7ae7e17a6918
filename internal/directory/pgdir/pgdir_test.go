package pgdir

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinetree-kr/identity-service/internal/credentials"
	"github.com/pinetree-kr/identity-service/internal/directory"
)

const (
	testAccountID  = "7b2d2a3e-9a41-4a8c-b6a1-0c6f4bb6e111"
	otherAccountID = "1f0e9d8c-7b6a-4544-9321-aabbccddeeff"
)

func newMock(t *testing.T) (*Directory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestFindByEmailNotFound(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("SELECT id, email, signup_provider").
		WithArgs("nobody@x.com").
		WillReturnError(sql.ErrNoRows)

	acct, err := d.FindByEmail(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, acct)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByEmailLoadsIdentities(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("SELECT id, email, signup_provider").
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "email", "signup_provider", "last_login", "extras"},
		).AddRow(testAccountID, "a@x.com", "kakao", nil, []byte(`{"name":"nick"}`)))

	mock.ExpectQuery("SELECT provider, provider_user_id").
		WillReturnRows(sqlmock.NewRows([]string{"provider", "provider_user_id"}).
			AddRow("kakao", "k-1").
			AddRow("google", "g-1"))

	acct, err := d.FindByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, testAccountID, acct.ID)
	assert.Equal(t, "kakao", acct.Metadata.SignupProvider)
	assert.ElementsMatch(t, []string{"kakao", "google"}, acct.Metadata.LinkedProviders)
	assert.Equal(t, "g-1", acct.Metadata.ProviderKeys["google"])
	assert.Equal(t, "nick", acct.Metadata.Extras["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserEmailTaken(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO accounts").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := d.CreateUser(context.Background(), "a@x.com", "cred-123456", directory.Metadata{
		SignupProvider: "kakao",
	})
	require.ErrorIs(t, err, directory.ErrEmailTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserAttachesIdentities(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testAccountID))
	mock.ExpectExec("INSERT INTO account_identities").
		WithArgs(testAccountID, "kakao", "k-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT account_id").
		WithArgs("kakao", "k-1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow(testAccountID))
	mock.ExpectCommit()

	id, err := d.CreateUser(context.Background(), "a@x.com", "cred-123456", directory.Metadata{
		SignupProvider: "kakao",
		ProviderKeys:   map[string]string{"kakao": "k-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, testAccountID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMetadataIdentityTaken(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO account_identities").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT account_id").
		WithArgs("google", "g-1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).AddRow(otherAccountID))
	mock.ExpectRollback()

	err := d.UpdateMetadata(context.Background(), testAccountID, directory.Patch{
		AddProviders: []string{"google"},
		ProviderKeys: map[string]string{"google": "g-1"},
	})
	require.ErrorIs(t, err, directory.ErrIdentityTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyEmailCredential(t *testing.T) {
	d, mock := newMock(t)

	hash, _, err := credentials.HashPassword("correct-horse")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, password_hash").
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).
			AddRow(testAccountID, hash))

	id, err := d.VerifyEmailCredential(context.Background(), "a@x.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, testAccountID, id)
}

func TestVerifyEmailCredentialWrongPassword(t *testing.T) {
	d, mock := newMock(t)

	hash, _, err := credentials.HashPassword("correct-horse")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, password_hash").
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password_hash"}).
			AddRow(testAccountID, hash))

	_, err = d.VerifyEmailCredential(context.Background(), "a@x.com", "wrong")
	require.ErrorIs(t, err, directory.ErrInvalidCredentials)
}

func TestVerifyEmailCredentialUnknownEmail(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("SELECT id, password_hash").
		WithArgs("nobody@x.com").
		WillReturnError(sql.ErrNoRows)

	_, err := d.VerifyEmailCredential(context.Background(), "nobody@x.com", "pw")
	require.ErrorIs(t, err, directory.ErrInvalidCredentials)
}

func TestGenerateSessionAssertionAppendsToken(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectExec("INSERT INTO session_assertions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	link, err := d.GenerateSessionAssertion(
		context.Background(), testAccountID, "a@x.com", "https://app/auth/complete")
	require.NoError(t, err)
	assert.Contains(t, link, "https://app/auth/complete?token=")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProviderIdentities(t *testing.T) {
	d, mock := newMock(t)

	mock.ExpectQuery("SELECT DISTINCT provider").
		WithArgs(testAccountID).
		WillReturnRows(sqlmock.NewRows([]string{"provider"}).
			AddRow("kakao").
			AddRow("google"))

	providers, err := d.ProviderIdentities(context.Background(), testAccountID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"kakao", "google"}, providers)
}
