// Package signing issues and checks the tamper-evident tokens that bind a
// quoted charge (or a resolved bank account) to the user it was quoted for.
// Tokens are an HMAC-SHA256 hex digest over the canonical JSON encoding of the
// payload, so any reordering of keys by a client round-trip is harmless while
// any change to a value invalidates the signature.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// SignatureField is the conventional key a signature travels under inside a
// signed payload. Verify helpers pop it before recomputing the digest.
const SignatureField = "signature"

// Sign computes the hex HMAC-SHA256 digest of the canonical encoding of
// payload under key.
func Sign(payload map[string]any, key string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the payload signature under key and compares it to the
// supplied digest in constant time.
func Verify(payload map[string]any, key, signature string) (bool, error) {
	expected, err := Sign(payload, key)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// VerifyTagged pops SignatureField from payload and verifies the remainder
// against it. The payload map is modified in place.
func VerifyTagged(payload map[string]any, key string) (bool, error) {
	raw, ok := payload[SignatureField]
	if !ok {
		return false, fmt.Errorf("signing: payload missing %s", SignatureField)
	}
	signature, ok := raw.(string)
	if !ok {
		return false, fmt.Errorf("signing: %s is not a string", SignatureField)
	}
	delete(payload, SignatureField)
	return Verify(payload, key, signature)
}

// Canonicalize renders a payload as compact JSON with lexicographically sorted
// keys at every level and no HTML escaping.
func Canonicalize(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeScalar(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(v.String())
		return nil
	default:
		return writeScalar(buf, value)
	}
}

func writeScalar(buf *bytes.Buffer, value any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return fmt.Errorf("signing: encode %T: %w", value, err)
	}
	// Encoder appends a newline the canonical form must not carry.
	buf.Truncate(buf.Len() - 1)
	return nil
}
