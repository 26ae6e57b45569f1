package diaglog

import (
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveKeys are matched case-insensitively against payload keys. They
// cover the obs-websocket handshake and the CLI's OBS password.
var sensitiveKeys = map[string]bool{
	"authentication": true,
	"password":       true,
	"obs_password":   true,
	"secret":         true,
	"challenge":      true,
	"salt":           true,
	"auth":           true,
	"token":          true,
}

// Redact returns a copy of v with sensitive values replaced by "[REDACTED]".
// Maps and slices are walked recursively; strings that are URLs lose any
// password in their user info (ws://user:pw@host). v is not mutated.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = redacted
			} else {
				out[k] = Redact(child)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, s := range val {
			if isSensitive(k) {
				out[k] = redacted
			} else {
				out[k] = redactURL(s)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	case string:
		return redactURL(val)
	default:
		return v
	}
}

func isSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

func redactURL(s string) string {
	if !strings.Contains(s, "://") || !strings.Contains(s, "@") {
		return s
	}
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); !ok {
		return s
	}
	u.User = url.UserPassword(u.User.Username(), redacted)
	return u.String()
}
