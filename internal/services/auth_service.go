package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"dm-backend/internal/models"
	"dm-backend/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	accessTokenTTL  = 72 * time.Hour
	refreshTokenTTL = 30 * 24 * time.Hour
)

// AuthService is the bundled local identity provider. In deployments
// that use an external provider only the token validation path is
// exercised; register/login exist so the backend is usable standalone.
// Token subjects are external ids, same contract as the webhook sync.
type AuthService struct {
	users  *UserService
	store  store.Store
	secret []byte
	log    *zap.SugaredLogger
}

func NewAuthService(users *UserService, st store.Store, secret string, log *zap.SugaredLogger) *AuthService {
	return &AuthService{users: users, store: st, secret: []byte(secret), log: log}
}

// Register creates a local account. The generated external id is
// namespaced so it can never collide with provider-issued subjects.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return nil, ErrInvalidArgument
	}

	if _, err := s.store.UserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	externalID := "local|" + uuid.NewString()
	user, err := s.users.Upsert(ctx, externalID, req.Name, req.Email, nil)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetPasswordHash(ctx, user.ID, string(hash)); err != nil {
		return nil, err
	}

	s.log.Infow("user registered", "user_id", user.ID)
	return s.issueTokens(externalID, user)
}

// Login verifies credentials and issues a token pair.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.store.UserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	hash, err := s.store.PasswordHash(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(user.ExternalID, user)
}

// Refresh exchanges a valid refresh token for a new token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	externalID, err := s.validate(refreshToken, "refresh")
	if err != nil {
		return nil, ErrUnauthenticated
	}
	user, err := s.users.ByExternalID(ctx, externalID)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return s.issueTokens(externalID, user)
}

// ValidateAccessToken returns the external id carried by an access
// token, or an error for anything expired, malformed or mis-signed.
func (s *AuthService) ValidateAccessToken(tokenString string) (string, error) {
	return s.validate(tokenString, "access")
}

func (s *AuthService) issueTokens(externalID string, user *models.User) (*models.AuthResponse, error) {
	access, err := s.sign(externalID, "access", accessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(externalID, "refresh", refreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

func (s *AuthService) sign(externalID, tokenType string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  externalID,
		"type": tokenType,
		"exp":  time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *AuthService) validate(tokenString, wantType string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if t, _ := claims["type"].(string); t != wantType {
		return "", errors.New("wrong token type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errors.New("missing subject")
	}
	return sub, nil
}
