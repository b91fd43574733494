package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// OperatorRole is the only role tokens are issued for.
const OperatorRole = "operator"

type AuthService interface {
	Login(ctx context.Context, username, password string) (token string, err error)
	GetJWTSecret() string
}

// authService checks the single configured operator credential pair.
type authService struct {
	username      string
	passwordHash  []byte
	jwtSecret     string
	jwtExpiration time.Duration
}

// NewAuthService hashes the configured password once so logins compare with bcrypt.
func NewAuthService(username, password, jwtSecret string, jwtExpiration time.Duration) (AuthService, error) {
	if jwtSecret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	if username == "" || password == "" {
		return nil, errors.New("operator username and password are required")
	}
	if jwtExpiration <= 0 {
		jwtExpiration = time.Hour
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &authService{
		username:      username,
		passwordHash:  hash,
		jwtSecret:     jwtSecret,
		jwtExpiration: jwtExpiration,
	}, nil
}

// Login handles operator authentication and JWT generation.
func (s *authService) Login(ctx context.Context, username, password string) (string, error) {
	// 1. Basic Input Validation
	if username == "" || password == "" {
		return "", ErrAuthenticationFailed
	}

	// 2. Compare both halves; bcrypt runs even on a wrong username
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", ErrAuthenticationFailed
	}

	// 3. Generate JWT
	token, err := s.generateJWT(username)
	if err != nil {
		return "", ErrTokenGeneration
	}
	return token, nil
}

// --- JWT Helper ---

// OperatorClaims defines the structure of the JWT payload.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (s *authService) generateJWT(username string) (string, error) {
	now := time.Now()
	claims := &OperatorClaims{
		Role: OperatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "agenda-pro",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

// GetJWTSecret returns the JWT secret for middleware authentication
func (s *authService) GetJWTSecret() string {
	return s.jwtSecret
}
