package validators

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/wasessions-backend/pkg/errors"
)

// ParseQueryInt reads an optional integer query parameter bounded by [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" must be numeric").WithDetails(map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, key+" out of range").WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryOneOf reads an optional query parameter restricted to allowed. An
// absent parameter returns "".
func ParseQueryOneOf(r *http.Request, key string, allowed ...string) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return "", nil
	}
	if !slices.Contains(allowed, raw) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, key+" must be one of "+strings.Join(allowed, ", ")).
			WithDetails(map[string]any{"field": key, "allowed": allowed})
	}
	return raw, nil
}
