package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ticket_desk/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTokenTTL = 12 * time.Hour
	tokenIssuer     = "ticket-desk"

	minPasswordLen    = 8
	maxUsernameLength = 64
)

// Domain errors for operator accounts.
var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrInvalidUsername  = errors.New("invalid username")
	ErrOperatorNotFound = errors.New("operator not found")
	ErrInvalidToken     = errors.New("invalid token")

	// ErrSignUpClosed is returned by Bootstrap once the terminal has an
	// operator; further accounts are created by a signed-in operator.
	ErrSignUpClosed = errors.New("sign-up requires an operator token")
)

// AuthService manages the operator accounts that unlock the settings
// screen and the scan log. The first account is created by Bootstrap,
// every later one by an operator who is already signed in.
type AuthService struct {
	repo       repository.Authorization
	signingKey []byte
	tokenTTL   time.Duration
}

func NewAuthService(repo repository.Authorization, signingKey string, tokenTTL time.Duration) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &AuthService{repo: repo, signingKey: []byte(signingKey), tokenTTL: tokenTTL}
}

// Bootstrap creates the first operator of a fresh terminal.
func (s *AuthService) Bootstrap(username, password string) (int, error) {
	username, hash, err := newCredentials(username, password)
	if err != nil {
		return 0, err
	}
	id, err := s.repo.CreateFirst(username, hash)
	if errors.Is(err, repository.ErrOperatorsExist) {
		return 0, ErrSignUpClosed
	}
	return id, err
}

// SignUp creates another operator. Callers must have authenticated one.
func (s *AuthService) SignUp(username, password string) (int, error) {
	username, hash, err := newCredentials(username, password)
	if err != nil {
		return 0, err
	}
	return s.repo.Create(username, hash)
}

// newCredentials normalizes the username and hashes the password.
func newCredentials(username, password string) (string, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength || strings.ContainsAny(username, " \t\n") {
		return "", "", ErrInvalidUsername
	}
	hash, err := hashPassword(password)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return username, hash, nil
}

// Claims are carried by operator tokens.
type Claims struct {
	jwt.RegisteredClaims
	OperatorID int    `json:"operator_id"`
	Username   string `json:"username"`
}

// GenerateToken signs an operator in.
func (s *AuthService) GenerateToken(username, password string) (string, error) {
	op, err := s.repo.GetByUsername(strings.TrimSpace(username))
	if err != nil {
		return "", err
	}
	if op == nil {
		return "", ErrOperatorNotFound
	}
	if err := verifyPassword(op.PasswordHash, password); err != nil {
		return "", ErrInvalidPassword
	}
	return s.issueToken(op.ID, op.Username)
}

// ParseToken returns the operator id of a valid token.
func (s *AuthService) ParseToken(accessToken string) (int, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.OperatorID <= 0 {
		return 0, ErrInvalidToken
	}
	return claims.OperatorID, nil
}

func hashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password is empty")
	}
	if utf8.RuneCountInString(password) < minPasswordLen {
		return "", fmt.Errorf("password must have at least %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *AuthService) issueToken(operatorID int, username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		OperatorID: operatorID,
		Username:   username,
	})
	return token.SignedString(s.signingKey)
}
