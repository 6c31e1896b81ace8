package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	userIdClaim = "user_id"
	emailClaim  = "email"
	expClaim    = "exp"
)

type ErrorKind int

const (
	ErrorMalformed ErrorKind = iota
	ErrorExpired
	ErrorSignatureInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorExpired:
		return "expired token"
	case ErrorSignatureInvalid:
		return "invalid signature"
	default:
		return "malformed token"
	}
}

// AuthError is the terminal result of a failed credential check. Kind
// is stable and suitable for a close reason on a live connection.
type AuthError struct {
	Kind ErrorKind
	err  error
}

func (e *AuthError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.err)
	}
	return e.Kind.String()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// Identity is the authenticated principal carried by a verified token.
type Identity struct {
	UserId    int
	Email     string
	ExpiresAt time.Time
}

// Expired reports whether the identity's credential has lapsed at now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Validator verifies bearer credentials against a shared HMAC secret.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	signingKey []byte
}

func NewValidator(signingKey []byte) *Validator {
	return &Validator{signingKey: signingKey}
}

// Validate checks signature integrity and expiry of tokenString against
// now and returns the embedded identity. Failures are always *AuthError.
func (v *Validator) Validate(tokenString string, now time.Time) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, &AuthError{Kind: classify(err), err: err}
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return Identity{}, &AuthError{Kind: ErrorMalformed, err: errors.New("missing user id claim")}
	}

	email, _ := claims[emailClaim].(string)

	identity := Identity{
		UserId: int(userId),
		Email:  email,
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	return identity, nil
}

// IssueToken signs a credential for the user expiring at expiresAt.
func (v *Validator) IssueToken(userId int, email string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		emailClaim:  email,
		expClaim:    expiresAt.Unix(),
	})

	return token.SignedString(v.signingKey)
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrorExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrorSignatureInvalid
	default:
		return ErrorMalformed
	}
}
