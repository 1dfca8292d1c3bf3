package security

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"library-circulation-backend/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

const (
	issuer         = "library-circulation"
	accessAudience = "api-access"
)

// ActorClaims identifies the staff member or patron behind a request.
type ActorClaims struct {
	ActorID int32            `json:"actor_id"`
	Role    domain.ActorKind `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts the claims into the engine's caller identity.
func (c *ActorClaims) Actor() domain.Actor {
	return domain.Actor{ID: c.ActorID, Kind: c.Role}
}

type TokenManager interface {
	GenerateAccessToken(actor domain.Actor) (string, error)
	ValidateToken(tokenString string) (*ActorClaims, error)
}

type tokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenManager(secret string, ttl time.Duration) TokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &tokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (m *tokenManager) GenerateAccessToken(actor domain.Actor) (string, error) {
	if actor.Kind != domain.ActorStaff && actor.Kind != domain.ActorPatron {
		return "", ErrUnknownRole
	}
	now := m.now()
	claims := ActorClaims{
		ActorID: actor.ID,
		Role:    actor.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(int(actor.ID)),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{accessAudience},
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*ActorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ActorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithAudience(accessAudience), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*ActorClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ActorID == 0 && claims.Subject != "" {
		id, _ := strconv.Atoi(claims.Subject)
		claims.ActorID = int32(id)
	}
	if claims.Role != domain.ActorStaff && claims.Role != domain.ActorPatron {
		return nil, ErrUnknownRole
	}
	return claims, nil
}
