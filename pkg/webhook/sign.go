package webhook

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SignTaobao recomputes the relay signature for platform A:
// md5hex(timestamp + body + appSecret) over the decoded JSON body.
func SignTaobao(body []byte, timestamp, appSecret string) string {
	h := md5.Sum([]byte(timestamp + string(body) + appSecret))
	return hex.EncodeToString(h[:])
}

// SignGoofish recomputes the signature for platform B:
// hmac-sha256-hex over the sorted "k=v" join of every top-level field
// except "sign" itself, keyed with the shared secret.
func SignGoofish(body []byte, appSecret string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return "", fmt.Errorf("sign: decode body: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+stringify(fields[k]))
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		// Nested values are signed as their compact JSON encoding.
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// equalSign compares hex signatures in constant time. Case-insensitive;
// older relay versions send uppercase hex.
func equalSign(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}
