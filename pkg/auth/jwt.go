package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleOwner = "owner"
	RoleGuest = "guest"

	TokenAccess  = "access"
	TokenRefresh = "refresh"

	audience = "aether-api"
)

var (
	ErrWrongTokenType = errors.New("wrong token type")
	ErrTokenExpired   = errors.New("token expired")
)

type Claims struct {
	Sub       int64  `json:"sub_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	HouseID   string `json:"house_id,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func newToken(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   strconv.FormatInt(claims.Sub, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Audience:  []string{audience},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func NewAccessToken(sub int64, email, role, houseID, secret string, ttl time.Duration) (string, error) {
	return newToken(Claims{Sub: sub, Email: email, Role: role, HouseID: houseID, TokenType: TokenAccess}, secret, ttl)
}

func NewRefreshToken(sub int64, email, role, houseID, secret string, ttl time.Duration) (string, error) {
	return newToken(Claims{Sub: sub, Email: email, Role: role, HouseID: houseID, TokenType: TokenRefresh}, secret, ttl)
}

// NewGuestSession issues the access token handed to a guest after code redemption.
func NewGuestSession(guestID int64, houseID, secret string, ttl time.Duration) (string, error) {
	return NewAccessToken(guestID, "", RoleGuest, houseID, secret, ttl)
}

func Parse(tokenString, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(audience))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// ParseAs parses the token and checks it is of the wanted type.
func ParseAs(tokenString, secret, tokenType string) (*Claims, error) {
	claims, err := Parse(tokenString, secret)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: got %q", ErrWrongTokenType, claims.TokenType)
	}
	return claims, nil
}
