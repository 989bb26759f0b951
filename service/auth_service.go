package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"saferoam/core"
	"saferoam/storage"
)

// DefaultTokenTTL is the lifetime of an issued access token.
const DefaultTokenTTL = 24 * time.Hour

var authValidate = validator.New()

// Claims are the JWT claims issued at login and checked by the API
// role guards.
type Claims struct {
	UserID int64     `json:"uid"`
	Role   core.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthService handles account registration and login. Passwords are
// stored only as bcrypt hashes; access tokens are HMAC-signed JWTs
// carrying the user id and role.
type AuthService struct {
	users       storage.UserStorage
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	secret      []byte
	tokenTTL    time.Duration
	now         func() time.Time
}

func NewAuthService(users storage.UserStorage, broadcaster Broadcaster, secret string, logger *zap.SugaredLogger) *AuthService {
	if users == nil {
		panic("users storage is required")
	}
	if secret == "" {
		panic("jwt secret is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &AuthService{
		users:       users,
		broadcaster: broadcaster,
		logger:      logger,
		secret:      []byte(secret),
		tokenTTL:    DefaultTokenTTL,
		now:         time.Now,
	}
}

// RegisterRequest carries the fields for account creation.
type RegisterRequest struct {
	Email            string    `json:"email" validate:"required,email,max=254"`
	Password         string    `json:"password" validate:"required,min=8,max=128"`
	Role             core.Role `json:"role" validate:"required,oneof=tourist authority"`
	FullName         string    `json:"full_name" validate:"max=200"`
	Phone            string    `json:"phone" validate:"max=32"`
	EmergencyContact string    `json:"emergency_contact" validate:"max=32"`
}

// Register creates a new account. Duplicate emails surface as
// storage.ErrDuplicateEmail; new tourists are announced to dashboards.
func (as *AuthService) Register(ctx context.Context, req *RegisterRequest) (*core.User, error) {
	if err := authValidate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrValidationFailed, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &core.User{
		Email:            req.Email,
		PasswordHash:     string(hash),
		Role:             req.Role,
		FullName:         req.FullName,
		Phone:            req.Phone,
		EmergencyContact: req.EmergencyContact,
		CreatedAt:        as.now().UTC(),
	}
	if err := as.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	if user.Role == core.RoleTourist && as.broadcaster != nil {
		as.broadcaster.Publish("tourist_created", user)
	}
	as.logger.Infow("Account registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

// Login checks credentials and issues an access token. Unknown email
// and wrong password are indistinguishable to the caller.
func (as *AuthService) Login(ctx context.Context, email, password string) (string, *core.User, error) {
	user, err := as.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return "", nil, core.ErrAuthenticationFailed
		}
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, core.ErrAuthenticationFailed
	}

	token, err := as.issueToken(user)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, user, nil
}

// ParseToken validates a token string and returns its claims.
func (as *AuthService) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return as.secret, nil
	})
	if err != nil {
		return nil, core.ErrAuthenticationFailed
	}
	return claims, nil
}

func (as *AuthService) issueToken(user *core.User) (string, error) {
	now := as.now()
	claims := &Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(as.secret)
}
