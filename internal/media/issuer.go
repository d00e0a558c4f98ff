// Package media issues time-boxed credentials for the external real-time
// media relay. The relay itself (packet routing) is out of scope; the
// coordinator only mints the tokens clients present to it.
package media

import (
	"context"
	"errors"
	"time"

	"messenger-platform/internal/call"
	"messenger-platform/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("media: invalid argument")

// RoomClaims is the only claims shape the relay accepts.
type RoomClaims struct {
	jwt.RegisteredClaims

	RoomID    string `json:"room_id"`
	MediaType string `json:"media_type"`
}

// Issuer mints HS256 room tokens.
type Issuer struct {
	secret   []byte
	relayURL string
	ttl      time.Duration
	clock    func() time.Time
}

func NewIssuer(cfg config.MediaConfig) (*Issuer, error) {
	if cfg.TokenSecret == "" {
		return nil, errors.New("media: MEDIA_TOKEN_SECRET is required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Issuer{
		secret:   []byte(cfg.TokenSecret),
		relayURL: cfg.RelayURL,
		ttl:      ttl,
		clock:    time.Now,
	}, nil
}

// SetClock overrides the issuer clock for deterministic tests.
func (i *Issuer) SetClock(clock func() time.Time) { i.clock = clock }

// Issue mints a room token for userID. Implements call.CredentialIssuer.
func (i *Issuer) Issue(ctx context.Context, roomID, userID string, media call.MediaType) (call.Credentials, error) {
	if roomID == "" || userID == "" {
		return call.Credentials{}, ErrInvalidArgument
	}

	now := i.clock().UTC()
	expires := now.Add(i.ttl)
	claims := RoomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		RoomID:    roomID,
		MediaType: string(media),
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return call.Credentials{}, err
	}
	return call.Credentials{
		Token:     tok,
		RelayURL:  i.relayURL,
		ExpiresAt: expires,
	}, nil
}

// Verify parses a previously issued room token. The relay side of the house
// uses this; the coordinator only needs it for tests and diagnostics.
func (i *Issuer) Verify(tokenString string, now time.Time) (RoomClaims, error) {
	var claims RoomClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	}); err != nil {
		return RoomClaims{}, err
	}
	return claims, nil
}
