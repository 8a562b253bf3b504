package llm

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoJSON marks a reply that does not carry a decodable JSON object.
var ErrNoJSON = errors.New("reply is not valid JSON")

// StripCodeFence removes a surrounding ``` or ```json fence, if any.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// Decode extracts the outermost JSON object of a reply into v.
func Decode(reply string, v interface{}) error {
	body := StripCodeFence(reply)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end < start {
		return errors.Wrapf(ErrNoJSON, "no object in %q", truncate(body, 80))
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return errors.Wrap(ErrNoJSON, err.Error())
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
