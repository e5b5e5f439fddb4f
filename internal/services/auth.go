package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	apperrors "github.com/csyeqing/rag-platform/internal/pkg/errors"
	"github.com/csyeqing/rag-platform/internal/pkg/logger"
	"github.com/csyeqing/rag-platform/internal/repos"
	"github.com/csyeqing/rag-platform/internal/types"
	"github.com/csyeqing/rag-platform/internal/utils"
)

type LoginResult struct {
	AccessToken string
	UserID      uuid.UUID
	Username    string
	Role        string
}

type CreateUserParams struct {
	Username string
	Password string
	Role     string
}

type UpdateUserParams struct {
	Password *string
	Role     *string
	IsActive *bool
}

type AuthService interface {
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	// Authenticate resolves a bearer token to its active user.
	Authenticate(ctx context.Context, tokenString string) (*types.User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error)
	EnsureDefaultAdmin(ctx context.Context) error

	ListUsers(ctx context.Context) ([]*types.User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*types.User, error)
	UpdateUser(ctx context.Context, actorID, targetID uuid.UUID, params UpdateUserParams) (*types.User, error)
}

type authService struct {
	userRepo      repos.UserRepo
	secretKey     []byte
	expireMinutes int
	log           *logger.Logger
}

func NewAuthService(userRepo repos.UserRepo, baseLog *logger.Logger) AuthService {
	serviceLog := baseLog.With("service", "AuthService")
	return &authService{
		userRepo:      userRepo,
		secretKey:     []byte(utils.GetEnv("SECRET_KEY", "change-me-in-production", serviceLog)),
		expireMinutes: utils.GetEnvAsInt("JWT_EXPIRE_MINUTES", 120, serviceLog),
		log:           serviceLog,
	}
}

func (s *authService) signToken(userID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Duration(s.expireMinutes) * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *authService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	invalid := fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthorized)
	user, err := s.userRepo.GetByUsername(ctx, nil, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, invalid
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	token, err := s.signToken(user.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("user logged in", "user_id", user.ID, "username", user.Username)
	return &LoginResult{
		AccessToken: token,
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
	}, nil
}

func (s *authService) Authenticate(ctx context.Context, tokenString string) (*types.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: account disabled", apperrors.ErrUnauthorized)
	}
	return user, nil
}

func (s *authService) GetUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	users, err := s.userRepo.GetByIDs(ctx, nil, []uuid.UUID{userID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: user", apperrors.ErrNotFound)
	}
	return users[0], nil
}

// EnsureDefaultAdmin seeds the bootstrap admin account on first start.
func (s *authService) EnsureDefaultAdmin(ctx context.Context) error {
	username := utils.GetEnv("ADMIN_USERNAME", "admin", s.log)
	password := utils.GetEnv("ADMIN_PASSWORD", "admin123456", s.log)
	exists, err := s.userRepo.UsernameExists(ctx, nil, username)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.userRepo.Create(ctx, nil, []*types.User{{
		Username:     username,
		PasswordHash: string(hash),
		Role:         types.RoleAdmin,
		IsActive:     true,
	}})
	if err != nil {
		return err
	}
	s.log.Info("default admin account created", "username", username)
	return nil
}

func (s *authService) ListUsers(ctx context.Context) ([]*types.User, error) {
	return s.userRepo.List(ctx, nil)
}

func validateRole(role string) error {
	if role != types.RoleAdmin && role != types.RoleUser {
		return fmt.Errorf("%w: role must be admin or user", apperrors.ErrInvalidArgument)
	}
	return nil
}

func (s *authService) CreateUser(ctx context.Context, params CreateUserParams) (*types.User, error) {
	if params.Username == "" || params.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", apperrors.ErrInvalidArgument)
	}
	role := params.Role
	if role == "" {
		role = types.RoleUser
	}
	if err := validateRole(role); err != nil {
		return nil, err
	}
	exists, err := s.userRepo.UsernameExists(ctx, nil, params.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: username already exists", apperrors.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	rows, err := s.userRepo.Create(ctx, nil, []*types.User{{
		Username:     params.Username,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}})
	if err != nil {
		return nil, err
	}
	s.log.Info("user created", "user_id", rows[0].ID, "username", params.Username, "role", role)
	return rows[0], nil
}

func (s *authService) UpdateUser(ctx context.Context, actorID, targetID uuid.UUID, params UpdateUserParams) (*types.User, error) {
	user, err := s.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if params.Role != nil {
		if err := validateRole(*params.Role); err != nil {
			return nil, err
		}
		if actorID == targetID && user.Role == types.RoleAdmin && *params.Role != types.RoleAdmin {
			return nil, fmt.Errorf("%w: cannot remove your own admin role", apperrors.ErrInvalidArgument)
		}
		user.Role = *params.Role
	}
	if params.IsActive != nil {
		if actorID == targetID && !*params.IsActive {
			return nil, fmt.Errorf("%w: cannot deactivate your own account", apperrors.ErrInvalidArgument)
		}
		user.IsActive = *params.IsActive
	}
	if params.Password != nil && *params.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*params.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = string(hash)
	}
	return s.userRepo.Update(ctx, nil, user)
}
