package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/crawler-fleet/internal/fleet"
)

// GetInt reads key as a base-10 integer. A missing key reports ok=false; an
// unparsable value is an error.
func GetInt(ctx context.Context, s fleet.MetricsStore, key string) (int64, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("parse %s=%q: %w", key, raw, err)
	}
	return n, true, nil
}

// FormatInt is the inverse of GetInt's parsing.
func FormatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
