package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	apperrors "github.com/csyeqing/rag-platform/internal/pkg/errors"
	"github.com/csyeqing/rag-platform/internal/types"
)

type fakeUserRepo struct {
	users map[uuid.UUID]*types.User
}

func newFakeUserRepo(users ...*types.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: map[uuid.UUID]*types.User{}}
	for _, user := range users {
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}
		repo.users[user.ID] = user
	}
	return repo
}

func (r *fakeUserRepo) Create(_ context.Context, _ *gorm.DB, users []*types.User) ([]*types.User, error) {
	for _, user := range users {
		user.ID = uuid.New()
		r.users[user.ID] = user
	}
	return users, nil
}

func (r *fakeUserRepo) GetByIDs(_ context.Context, _ *gorm.DB, ids []uuid.UUID) ([]*types.User, error) {
	var results []*types.User
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			results = append(results, user)
		}
	}
	return results, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, _ *gorm.DB, username string) (*types.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) UsernameExists(_ context.Context, _ *gorm.DB, username string) (bool, error) {
	_, err := r.GetByUsername(context.Background(), nil, username)
	return err == nil, nil
}

func (r *fakeUserRepo) List(_ context.Context, _ *gorm.DB) ([]*types.User, error) {
	var results []*types.User
	for _, user := range r.users {
		results = append(results, user)
	}
	return results, nil
}

func (r *fakeUserRepo) Update(_ context.Context, _ *gorm.DB, user *types.User) (*types.User, error) {
	r.users[user.ID] = user
	return user, nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func newTestAuthService(t *testing.T, repo *fakeUserRepo) *authService {
	t.Helper()
	return &authService{
		userRepo:      repo,
		secretKey:     []byte("unit-test-secret"),
		expireMinutes: 120,
		log:           testLogger(t),
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newFakeUserRepo(&types.User{
		Username:     "alice",
		PasswordHash: hashPassword(t, "correct-horse"),
		Role:         types.RoleUser,
		IsActive:     true,
	})
	svc := newTestAuthService(t, repo)
	ctx := context.Background()

	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "whatever"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("unknown user: %v", err)
	}

	result, err := svc.Login(ctx, "alice", "correct-horse")
	if err != nil {
		t.Fatalf("valid login: %v", err)
	}
	if result.AccessToken == "" || result.Username != "alice" || result.Role != types.RoleUser {
		t.Fatalf("login result: %+v", result)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	repo := newFakeUserRepo(&types.User{
		Username:     "bob",
		PasswordHash: hashPassword(t, "pw"),
		Role:         types.RoleUser,
		IsActive:     false,
	})
	svc := newTestAuthService(t, repo)
	if _, err := svc.Login(context.Background(), "bob", "pw"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("inactive user: %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	user := &types.User{
		Username:     "alice",
		PasswordHash: hashPassword(t, "pw"),
		Role:         types.RoleAdmin,
		IsActive:     true,
	}
	repo := newFakeUserRepo(user)
	svc := newTestAuthService(t, repo)
	ctx := context.Background()

	result, err := svc.Login(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resolved, err := svc.Authenticate(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("wrong user resolved: %s", resolved.ID)
	}

	if _, err := svc.Authenticate(ctx, result.AccessToken+"tampered"); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("tampered token: %v", err)
	}

	other := newTestAuthService(t, repo)
	other.secretKey = []byte("different-secret")
	if _, err := other.Authenticate(ctx, result.AccessToken); !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("wrong key: %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	repo := newFakeUserRepo(&types.User{
		Username:     "alice",
		PasswordHash: hashPassword(t, "pw"),
		Role:         types.RoleUser,
		IsActive:     true,
	})
	svc := newTestAuthService(t, repo)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, CreateUserParams{Username: "alice", Password: "pw2"}); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("duplicate username: %v", err)
	}
	if _, err := svc.CreateUser(ctx, CreateUserParams{Username: "carol", Password: "pw", Role: "root"}); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("bad role: %v", err)
	}
	created, err := svc.CreateUser(ctx, CreateUserParams{Username: "carol", Password: "pw"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Role != types.RoleUser || !created.IsActive {
		t.Fatalf("defaults: %+v", created)
	}
}

func TestUpdateUserSelfProtection(t *testing.T) {
	admin := &types.User{
		Username:     "root",
		PasswordHash: hashPassword(t, "pw"),
		Role:         types.RoleAdmin,
		IsActive:     true,
	}
	repo := newFakeUserRepo(admin)
	svc := newTestAuthService(t, repo)
	ctx := context.Background()

	role := types.RoleUser
	if _, err := svc.UpdateUser(ctx, admin.ID, admin.ID, UpdateUserParams{Role: &role}); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("self downgrade: %v", err)
	}
	inactive := false
	if _, err := svc.UpdateUser(ctx, admin.ID, admin.ID, UpdateUserParams{IsActive: &inactive}); !errors.Is(err, apperrors.ErrInvalidArgument) {
		t.Fatalf("self deactivate: %v", err)
	}

	other, err := svc.CreateUser(ctx, CreateUserParams{Username: "dan", Password: "pw"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	promoted := types.RoleAdmin
	updated, err := svc.UpdateUser(ctx, admin.ID, other.ID, UpdateUserParams{Role: &promoted})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if updated.Role != types.RoleAdmin {
		t.Fatalf("role not updated: %+v", updated)
	}
}
