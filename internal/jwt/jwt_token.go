package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrMissingToken = errors.New("token string is empty")

// Verifier signs and validates HS256 operator tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

func (v *Verifier) CreateToken(op Operator, validUntil time.Time) (string, error) {
	if validUntil.IsZero() {
		validUntil = v.now().Add(12 * time.Hour)
	}

	claims := jwt.MapClaims{
		"id":     op.ID,
		"name":   op.Name,
		"avatar": op.Avatar,
		"exp":    validUntil.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

func (v *Verifier) ParseToken(tokenString string) (Operator, error) {
	if len(tokenString) == 0 {
		return Operator{}, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return Operator{}, fmt.Errorf("unauthorized: %w", err)
	}
	if !token.Valid {
		return Operator{}, fmt.Errorf("token is not valid - unauthorized")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Operator{}, fmt.Errorf("claims of unauthorized type")
	}

	exp, ok := claims["exp"].(float64)
	if !ok || v.now().Unix() > int64(exp) {
		return Operator{}, fmt.Errorf("token expired")
	}

	op := Operator{}
	op.ID, _ = claims["id"].(string)
	op.Name, _ = claims["name"].(string)
	op.Avatar, _ = claims["avatar"].(string)
	if op.ID == "" {
		return Operator{}, fmt.Errorf("token missing operator id")
	}
	return op, nil
}

// ParseAuthorization accepts a raw "Bearer <token>" header value.
func (v *Verifier) ParseAuthorization(header string) (Operator, error) {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		header = strings.TrimSpace(header[7:])
	}
	return v.ParseToken(header)
}
