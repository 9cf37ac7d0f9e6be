package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkroom/inkroom-api/internal/models"
)

func TestIssueSupersedesLiveTokens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuthTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE auth_tokens SET used_at").
		WithArgs("u1", string(models.TokenResetPassword), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO auth_tokens").
		WithArgs(sqlmock.AnyArg(), "u1", string(models.TokenResetPassword), "hash-new", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Issue(context.Background(), "u1", models.TokenResetPassword, "hash-new", time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemVerifyEmailActivatesUser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuthTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id FROM auth_tokens").
		WithArgs(string(models.TokenVerifyEmail), "hash-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}).AddRow("t1", "u1"))
	mock.ExpectExec("UPDATE auth_tokens SET used_at").
		WithArgs("t1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET email_verified_at").
		WithArgs("u1", sqlmock.AnyArg(), string(models.StatusActive)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	userID, err := repo.RedeemVerifyEmail(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemVerifyEmailUnknownToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuthTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id FROM auth_tokens").
		WithArgs(string(models.TokenVerifyEmail), "hash-bogus", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.RedeemVerifyEmail(context.Background(), "hash-bogus")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemPasswordResetRevokesSessions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuthTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, user_id FROM auth_tokens").
		WithArgs(string(models.TokenResetPassword), "hash-2", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}).AddRow("t2", "u2"))
	mock.ExpectExec("UPDATE auth_tokens SET used_at").
		WithArgs("t2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET password_hash").
		WithArgs("u2", "new-phc-hash", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE user_sessions SET revoked_at").
		WithArgs("u2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	userID, err := repo.RedeemPasswordReset(context.Background(), "hash-2", "new-phc-hash")
	require.NoError(t, err)
	assert.Equal(t, "u2", userID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
