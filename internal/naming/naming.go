// Package naming talks to the generative text service that names teams and
// writes ice breakers. Every failure is reported as a *ServiceError so callers
// can fall back to local text.
package naming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDisabled is wrapped by Offline for every request.
var ErrDisabled = errors.New("naming service disabled")

// ServiceError is a failed or malformed naming request.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("naming %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

const (
	OpTeamNames  = "team_names"
	OpIceBreaker = "ice_breaker"
)

// Offline never reaches a service; callers always get their fallback text.
type Offline struct{}

func (Offline) TeamNames(ctx context.Context, count int) ([]string, error) {
	return nil, &ServiceError{Op: OpTeamNames, Err: ErrDisabled}
}

func (Offline) IceBreaker(ctx context.Context, names []string) (string, error) {
	return "", &ServiceError{Op: OpIceBreaker, Err: ErrDisabled}
}

func teamNamesPrompt(count int) string {
	return fmt.Sprintf("Generate %d creative, professional, and fun team names for a corporate event. Provide the output as a simple JSON array of strings.", count)
}

func iceBreakerPrompt(names []string) string {
	return fmt.Sprintf("Generate a fun ice-breaker question or a short 1-sentence group challenge for a team consisting of: %s. Keep it positive and work-appropriate.", strings.Join(names, ", "))
}

// decodeNames parses a JSON array of strings, tolerating a markdown fence.
func decodeNames(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var names []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &names); err != nil {
		return nil, fmt.Errorf("malformed team names: %w", err)
	}
	return names, nil
}
