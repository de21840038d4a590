// Package token issues and verifies the signed room capabilities that
// gate admission to a consultation room. Verification is stateless:
// validity is computable from the token's signed contents plus the
// revocation list, so any instance can verify a token any other
// instance issued.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/domain"
)

// MaxTTL bounds token lifetime regardless of configuration.
const MaxTTL = time.Hour

var (
	ErrNotParticipant = errors.New("requester is not a participant of the appointment")
	ErrTokenInvalid   = errors.New("room token invalid")
	ErrTokenExpired   = errors.New("room token expired")
	ErrTokenRevoked   = errors.New("room token revoked")
)

// AppointmentDirectory is the boundary to the excluded appointment
// store. Only the two participant identifiers are consumed.
type AppointmentDirectory interface {
	Appointment(ctx context.Context, id domain.AppointmentID) (domain.Appointment, error)
}

// Claims is the signed content of a room token.
type Claims struct {
	jwt.RegisteredClaims
	RoomID domain.RoomID `json:"roomId"`
	Role   domain.Role   `json:"role"`
}

// Verification is the all-or-nothing result of VerifyToken.
type Verification struct {
	Valid  bool          `json:"valid"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
	UserID domain.UserID `json:"userId,omitempty"`
	Role   domain.Role   `json:"role,omitempty"`
}

type Service struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	dir     AppointmentDirectory
	revoked RevocationList
	now     func() time.Time
}

func NewService(secret, issuer string, ttl time.Duration, dir AppointmentDirectory, revoked RevocationList) *Service {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Service{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		dir:     dir,
		revoked: revoked,
		now:     time.Now,
	}
}

// IssueToken signs a room capability for the requester, but only after
// the appointment store confirms the requester is one of the two
// participants or the requester holds the administrative role.
func (s *Service) IssueToken(ctx context.Context, requester domain.UserID, role domain.Role, appointmentID domain.AppointmentID) (string, error) {
	appt, err := s.dir.Appointment(ctx, appointmentID)
	if err != nil {
		return "", fmt.Errorf("appointment lookup: %w", err)
	}

	tokenRole := role
	if pr, ok := appt.ParticipantRole(requester); ok {
		tokenRole = pr
	} else if !role.Administrative() {
		log.Warn().Str("module", "token").
			Str("user", string(requester)).
			Str("appointment", string(appointmentID)).
			Msg("issuance denied: not a participant")
		return "", ErrNotParticipant
	}

	roomID, err := domain.RoomIDFor(appt.ID)
	if err != nil {
		return "", err
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   string(requester),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		RoomID: roomID,
		Role:   tokenRole,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign room token: %w", err)
	}

	log.Info().Str("module", "token").
		Str("user", string(requester)).
		Str("room", string(roomID)).
		Time("expires", now.Add(s.ttl)).
		Msg("room token issued")
	return signed, nil
}

// VerifyToken checks a room token end to end and fails closed: any
// signature error, expiry, malformed room id, revocation hit, or
// identity mismatch yields an invalid result. There is no partial
// trust; the caller joins the relay only on Valid.
func (s *Service) VerifyToken(ctx context.Context, raw string, verifier domain.UserID, role domain.Role) (Verification, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Verification{}, ErrTokenExpired
		}
		return Verification{}, ErrTokenInvalid
	}
	if !parsed.Valid {
		return Verification{}, ErrTokenInvalid
	}

	if !claims.RoomID.Valid() {
		return Verification{}, ErrTokenInvalid
	}
	if _, err := domain.ParseRole(string(claims.Role)); err != nil {
		return Verification{}, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return Verification{}, ErrTokenInvalid
	}

	// Verifier must be the token's subject or an administrator.
	if domain.UserID(claims.Subject) != verifier && !role.Administrative() {
		return Verification{}, ErrTokenInvalid
	}

	if s.revoked != nil {
		issuedAt := time.Time{}
		if claims.IssuedAt != nil {
			issuedAt = claims.IssuedAt.Time
		}
		before, ok, err := s.revoked.RevokedSince(ctx, claims.RoomID)
		if err != nil {
			// Revocation backend failure fails closed as well.
			log.Error().Err(err).Str("module", "token").Str("room", string(claims.RoomID)).Msg("revocation lookup failed")
			return Verification{}, ErrTokenInvalid
		}
		if ok && !issuedAt.After(before) {
			return Verification{}, ErrTokenRevoked
		}
	}

	return Verification{
		Valid:  true,
		RoomID: claims.RoomID,
		UserID: domain.UserID(claims.Subject),
		Role:   claims.Role,
	}, nil
}

// DecodeUnverified extracts claims without checking the signature. It
// exists for the client side to learn its target room before opening
// the relay channel; admission still rides on VerifyToken.
func DecodeUnverified(raw string) (Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if !claims.RoomID.Valid() {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
