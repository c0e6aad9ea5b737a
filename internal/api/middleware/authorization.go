package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"support-chat-backend/internal/jwt"
)

type operatorKey struct{}

// TokenParser resolves a bearer token to the operator it was issued for.
type TokenParser interface {
	ParseAuthorization(header string) (jwt.Operator, error)
}

// OperatorAuth rejects requests without a valid operator bearer token and
// stores the operator in the request context.
func OperatorAuth(parser TokenParser) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			operator, err := parser.ParseAuthorization(r.Header.Get("Authorization"))
			if err != nil {
				unauthorized(w, err)
				return
			}
			next(w, r.WithContext(WithOperator(r.Context(), operator)))
		}
	}
}

func WithOperator(ctx context.Context, operator jwt.Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

func OperatorFromContext(ctx context.Context) (jwt.Operator, bool) {
	operator, ok := ctx.Value(operatorKey{}).(jwt.Operator)
	return operator, ok
}

func unauthorized(w http.ResponseWriter, err error) {
	message := "Unauthorized"
	if err == jwt.ErrMissingToken {
		message = "Missing token"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
