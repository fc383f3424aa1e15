package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-routine-api/internal/models"
	appErrors "github.com/noah-isme/campus-routine-api/pkg/errors"
)

type userRepoFixture struct {
	users map[string]*models.User
}

func newUserRepoFixture() *userRepoFixture {
	return &userRepoFixture{users: map[string]*models.User{}}
}

func (r *userRepoFixture) add(t *testing.T, email, password string, active bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{ID: "u-" + email, Email: email, PasswordHash: string(hash), FullName: "Admin", Active: active}
	r.users[email] = user
	return user
}

func (r *userRepoFixture) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := r.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return user, nil
}

func (r *userRepoFixture) Create(ctx context.Context, user *models.User) error {
	if _, ok := r.users[user.Email]; ok {
		return errDuplicateEmail
	}
	user.ID = "u-" + user.Email
	r.users[user.Email] = user
	return nil
}

var errDuplicateEmail = appErrors.Clone(appErrors.ErrConflict, "duplicate")

func newAuthFixture(t *testing.T) (*AuthService, *userRepoFixture) {
	t.Helper()
	repo := newUserRepoFixture()
	svc := NewAuthService(repo, nil, nil, AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "campus-routine-api"})
	return svc, repo
}

func TestAuthLoginIssuesVerifiableToken(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.add(t, "admin@example.com", "s3cret", true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "admin@example.com", resp.User.Email)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", claims.Email)
	assert.Equal(t, "u-admin@example.com", claims.Subject)
}

func TestAuthLoginWrongPassword(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.add(t, "admin@example.com", "s3cret", true)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "nope"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
}

func TestAuthLoginUnknownUser(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.com", Password: "s3cret"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
}

func TestAuthLoginDisabledAccount(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.add(t, "admin@example.com", "s3cret", false)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "s3cret"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
	typed := appErrors.FromError(err)
	assert.Equal(t, "account disabled", typed.Message)
}

func TestAuthValidateTokenRejectsForeignSecret(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.add(t, "admin@example.com", "s3cret", true)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "s3cret"})
	require.NoError(t, err)

	other := NewAuthService(repo, nil, nil, AuthConfig{Secret: "different-secret"})
	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
}

func TestAuthRegisterHashesPassword(t *testing.T) {
	svc, repo := newAuthFixture(t)

	user, err := svc.Register(context.Background(), "new@example.com", "s3cret", "New Admin")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("s3cret")))
	assert.True(t, user.Active)
	assert.Contains(t, repo.users, "new@example.com")
}
