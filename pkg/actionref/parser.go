// Package actionref parses and resolves versioned RPC action references:
// the "action@constraint" shape RPC clients use to request a compatible
// server-registered action version.
package actionref

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "actionref:parser"

// Ref holds the parsed components of an action reference string, e.g.
// "orders/submit@^2.1.0".
type Ref struct {
	// Full is the original input string.
	Full string
	// Action is the action name, e.g. "orders/submit".
	Action string
	// Range is the version range if specified ("^2.1.0", "3", ""); empty
	// means no version constraint (latest registered version).
	Range string
}

var (
	actionNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._/-]*$`)
	majorOnlyRegex  = regexp.MustCompile(`^\d+$`)
)

// Parse parses an action reference string.
//
// Supported formats:
//   - orders/submit            (no version, latest)
//   - orders/submit@2          (major only)
//   - orders/submit@2.1.0      (exact version)
//   - orders/submit@^2.1.0     (caret range)
//   - orders/submit@~2.1.0     (tilde range)
func Parse(input string) (*Ref, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, fmt.Errorf("%s - empty action reference", logPrefix)
	}

	atIndex := strings.Index(raw, "@")
	actionPart := raw
	rangeStr := ""
	if atIndex >= 0 {
		actionPart = raw[:atIndex]
		rangeStr = raw[atIndex+1:]
	}

	if !actionNameRegex.MatchString(actionPart) {
		return nil, fmt.Errorf("%s - invalid action name %q", logPrefix, actionPart)
	}
	if rangeStr != "" && !majorOnlyRegex.MatchString(rangeStr) && !looksLikeVersionOrRange(rangeStr) {
		return nil, fmt.Errorf("%s - invalid version range %q", logPrefix, rangeStr)
	}

	return &Ref{Full: raw, Action: actionPart, Range: rangeStr}, nil
}

func looksLikeVersionOrRange(s string) bool {
	s = strings.TrimLeft(s, "^~><=")
	return regexp.MustCompile(`^\d+(\.\d+){0,2}(-[\w.]+)?(\+[\w.]+)?$`).MatchString(s)
}
