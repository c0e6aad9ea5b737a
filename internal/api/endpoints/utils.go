package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"support-chat-backend/internal/api"
	"support-chat-backend/internal/service/conversation"
)

const maxBodyBytes = 1 << 20

type ApiMessageResponse struct {
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) error {
	return api.WriteJSON(w, status, v)
}

func MethodHandler(
	w http.ResponseWriter,
	r *http.Request,
	allowed map[string]func(http.ResponseWriter, *http.Request) error,
) error {
	if handler, ok := allowed[r.Method]; ok {
		return handler(w, r)
	}
	return &api.HTTPError{
		StatusCode: http.StatusMethodNotAllowed,
		Message:    "Method not allowed.",
	}
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return &api.HTTPError{
		StatusCode: http.StatusBadRequest,
		Message:    "Invalid request body",
		ErrorLog:   fmt.Errorf("decode body: %w", err),
	}
}

// pathSegments splits what follows prefix into non-empty segments.
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func notFound(message string) error {
	return &api.HTTPError{StatusCode: http.StatusNotFound, Message: message}
}

func badRequest(message string) error {
	return &api.HTTPError{StatusCode: http.StatusBadRequest, Message: message}
}

func queryInt(r *http.Request, key string) (int, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false, badRequest(fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return v, true, nil
}

// serviceError maps a conversation service error onto an HTTP status.
func serviceError(err error) error {
	var svcErr *conversation.Error
	if !errors.As(err, &svcErr) {
		return &api.HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   err,
		}
	}

	status := http.StatusInternalServerError
	switch svcErr.Code {
	case conversation.ErrorCodeValidation:
		status = http.StatusBadRequest
	case conversation.ErrorCodeUnauthorized:
		status = http.StatusUnauthorized
	case conversation.ErrorCodeForbidden:
		status = http.StatusForbidden
	case conversation.ErrorCodeNotFound:
		status = http.StatusNotFound
	case conversation.ErrorCodeConflict:
		status = http.StatusConflict
	}

	httpErr := &api.HTTPError{StatusCode: status, Message: svcErr.Message}
	if status == http.StatusInternalServerError {
		httpErr.Message = "Internal server error"
		httpErr.ErrorLog = err
	}
	return httpErr
}
