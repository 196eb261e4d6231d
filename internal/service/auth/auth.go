package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DesktopPrincipal 是受信任静态令牌对应的身份。
const DesktopPrincipal = "desktop-user"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal identifies an authenticated client.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Claims 是签发给客户端的 JWT 载荷。
type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier accepts either a trusted static token or an HS256 JWT.
type Verifier struct {
	secret  []byte
	trusted map[string]struct{}
}

// NewVerifier 创建令牌校验器。
func NewVerifier(secret string, trustedTokens []string) *Verifier {
	trusted := make(map[string]struct{}, len(trustedTokens))
	for _, tok := range trustedTokens {
		if tok = strings.TrimSpace(tok); tok != "" {
			trusted[tok] = struct{}{}
		}
	}
	return &Verifier{secret: []byte(secret), trusted: trusted}
}

// Verify 校验令牌并返回身份。
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrMissingToken
	}
	if _, ok := v.trusted[token]; ok {
		return Principal{ID: DesktopPrincipal}, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Principal{}, ErrInvalidToken
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Principal{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return Principal{ID: id, Email: claims.Email}, nil
}

// Issue 签发一个 HS256 令牌，主要供测试与工具使用。
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: p.ID,
		Email:  p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest reads the handshake token from ?token= or a Bearer header.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
