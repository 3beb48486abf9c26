package audit

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Mask replaces sensitive values. Its length does not depend on the original value.
const Mask = "********"

// DefaultSensitiveKeys are redacted in every entry
var DefaultSensitiveKeys = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"authorization",
	"remember_token",
	"otp",
	"private_key",
}

// Redactor masks values whose key names a secret
type Redactor struct {
	keys []string
}

// NewRedactor builds a redactor from the default list plus extra keys
func NewRedactor(extra ...string) *Redactor {
	keys := make([]string, 0, len(DefaultSensitiveKeys)+len(extra))
	for _, k := range append(append([]string{}, DefaultSensitiveKeys...), extra...) {
		if k = normalizeKey(k); k != "" {
			keys = append(keys, k)
		}
	}
	return &Redactor{keys: keys}
}

// IsSensitive reports whether key contains any sensitive name, ignoring case
// and separators
func (r *Redactor) IsSensitive(key string) bool {
	k := normalizeKey(key)
	for _, s := range r.keys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactMeta masks changes and extra metadata in place
func (r *Redactor) RedactMeta(m *Meta) {
	for field, c := range m.Changes {
		if r.IsSensitive(field) {
			m.Changes[field] = Change{Old: Mask, New: Mask}
			continue
		}
		m.Changes[field] = Change{Old: r.redactValue(c.Old), New: r.redactValue(c.New)}
	}
	for k, v := range m.Extra {
		if r.IsSensitive(k) {
			m.Extra[k] = Mask
			continue
		}
		m.Extra[k] = r.redactValue(v)
	}
}

// redactValue walks nested maps and slices. Typed containers and structs are
// first normalized through JSON so every key is seen under the name it is
// persisted with.
func (r *Redactor) redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if r.IsSensitive(k) {
				out[k] = Mask
				continue
			}
			out[k] = r.redactValue(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if r.IsSensitive(k) {
				out[k] = Mask
				continue
			}
			out[k] = inner
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = r.redactValue(inner)
		}
		return out
	default:
		if !composite(v) {
			return v
		}
		normalized, err := normalize(v)
		if err != nil {
			return Mask
		}
		return r.redactValue(normalized)
	}
}

// composite reports whether v may hold keys below its top level
func composite(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Ptr, reflect.Interface:
		return true
	default:
		return false
	}
}

// normalize converts v into the maps, slices and scalars encoding/json decodes to
func normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(k)
}
