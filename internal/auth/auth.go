package auth

import (
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adi3g/guardian/internal/errors"
)

// DefaultTokenExpiry is the access token lifetime when the caller does
// not ask for one.
const DefaultTokenExpiry = 30 * time.Minute

// SecretEnvVar names the environment variable holding the signing secret.
const SecretEnvVar = "GUARDIAN_SECRET_KEY"

// defaultSecret keeps out-of-the-box development behavior working when
// no secret is configured. Production deployments must set SecretEnvVar.
const defaultSecret = "supersecretkey"

// Claims are the verified contents of an access token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Service signs and verifies HS256 bearer tokens in JWT compact
// serialization carrying {sub, exp}. Tokens are owned by the caller;
// the service stores nothing.
type Service struct {
	secret []byte
	expiry time.Duration

	now func() time.Time
}

// NewService creates an auth service with the given signing secret.
func NewService(secret []byte) *Service {
	return &Service{
		secret: secret,
		expiry: DefaultTokenExpiry,
		now:    time.Now,
	}
}

// NewServiceFromEnv creates an auth service with the secret from the
// environment.
func NewServiceFromEnv() *Service {
	secret := os.Getenv(SecretEnvVar)
	if secret == "" {
		secret = defaultSecret
	}
	return NewService([]byte(secret))
}

// CreateAccessToken signs a token for userID. A zero expiresIn uses
// DefaultTokenExpiry.
func (s *Service) CreateAccessToken(userID string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = s.expiry
	}

	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(s.now().Add(expiresIn)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyToken verifies signature and expiry. Any failure — malformed
// token, wrong signature, expired, wrong algorithm — yields
// errors.ErrInvalidToken.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, errors.ErrInvalidToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return &Claims{Subject: claims.Subject, ExpiresAt: expiresAt}, nil
}
