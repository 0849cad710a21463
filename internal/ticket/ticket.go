// Package ticket mints and verifies self-contained session tickets.
//
// A ticket binds (quiz, user, deadline) under an HMAC signature. Nothing is
// stored server side: any service instance holding the secret can verify a
// ticket, which keeps issuance and validation stateless.
package ticket

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// RejectionReason tags why a ticket was refused.
type RejectionReason string

const (
	ReasonMalformed RejectionReason = "malformed"
	ReasonSignature RejectionReason = "invalid-signature"
	ReasonExpired   RejectionReason = "expired"
	ReasonMismatch  RejectionReason = "mismatch"
)

var (
	ErrMalformed = errors.New("ticket is malformed")
	ErrSignature = errors.New("ticket signature is invalid")
	ErrExpired   = errors.New("ticket has expired")
	ErrMismatch  = errors.New("ticket does not match quiz or user")
)

// ReasonFor maps a verification error to its rejection reason. Unknown
// errors are treated as malformed.
func ReasonFor(err error) RejectionReason {
	switch {
	case errors.Is(err, ErrSignature):
		return ReasonSignature
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrMismatch):
		return ReasonMismatch
	default:
		return ReasonMalformed
	}
}

// Claims are the signed fields of a session ticket.
type Claims struct {
	QuizID uint   `json:"qid"`
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Signer issues and verifies session tickets with a shared HMAC secret.
type Signer struct {
	secret []byte
	grace  time.Duration
	now    func() time.Time
}

func NewSigner(secret []byte, grace time.Duration) *Signer {
	return &Signer{secret: secret, grace: grace, now: time.Now}
}

// NewSignerWithClock is test-only for deterministic timestamps.
func NewSignerWithClock(secret []byte, grace time.Duration, now func() time.Time) *Signer {
	return &Signer{secret: secret, grace: grace, now: now}
}

// Issue mints a ticket for one quiz attempt. The deadline is the quiz
// duration plus the grace window, measured from issuance.
func (s *Signer) Issue(quizID uint, userID string, duration time.Duration) (token string, expiresAt time.Time, err error) {
	issuedAt := s.now()
	expiresAt = issuedAt.Add(duration + s.grace)

	claims := Claims{
		QuizID: quizID,
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return token, expiresAt, err
}

// Verify runs the full rejection chain in order: structure, signature,
// binding against the claimed quiz and user, then the deadline. Any failure
// rejects the ticket outright. The deadline is checked by hand after the
// binding so that a ticket failing both reports the mismatch.
func (s *Signer) Verify(token string, quizID uint, userID string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrSignature
		}
		return nil, ErrMalformed
	}
	if !parsed.Valid {
		return nil, ErrSignature
	}
	if claims.QuizID != quizID || claims.UserID != userID {
		return nil, ErrMismatch
	}
	if claims.ExpiresAt == nil {
		return nil, ErrMalformed
	}
	if s.now().After(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	return claims, nil
}
