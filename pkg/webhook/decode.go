// Package webhook validates inbound marketplace notifications: a schema
// stage that parses the (often noisy) body into a typed payload, and an
// independent signature stage that recomputes the upstream signature.
package webhook

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoJSON is returned when no balanced JSON object can be found in the
// request body.
var ErrNoJSON = errors.New("no json object in body")

// DecodeBody turns a raw webhook body into the JSON document it carries.
// Senders deliver three shapes in the wild: plain JSON, URL-encoded JSON
// prefixed with a literal "json=" form tag, and JSON wrapped in surrounding
// noise (proxy banners, stray log lines). Handles all three.
func DecodeBody(raw []byte) ([]byte, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return nil, ErrNoJSON
	}

	s = strings.TrimPrefix(s, "json=")

	// A form-encoded body has no literal brace before the percent escapes.
	if !strings.HasPrefix(s, "{") && strings.ContainsAny(s, "%+") {
		if decoded, err := url.QueryUnescape(s); err == nil {
			s = decoded
		}
	}

	obj, err := extractObject(s)
	if err != nil {
		return nil, err
	}
	return []byte(obj), nil
}

// extractObject returns the first balanced {...} block, honoring JSON
// string and escape rules so braces inside strings do not terminate it.
func extractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: unbalanced object", ErrNoJSON)
}
