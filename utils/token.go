package utils

import (
	"strings"

	"github.com/google/uuid"
)

// CreateToken mints an opaque visitor session token.
func CreateToken() string {
	return "vs_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
