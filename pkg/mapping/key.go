package mapping

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

const keySeparator = "__"

var keyStrip = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// GenerateKey derives the canonical identity of a record from its type and
// attribute values. Labels are walked in declared order and a missing value
// still contributes an empty segment, so map iteration order never leaks in.
func GenerateKey(recordType string, labels []string, values map[string]string) string {
	var b strings.Builder
	b.WriteString(recordType)
	for _, label := range labels {
		b.WriteString(keySeparator)
		b.WriteString(values[label])
	}

	raw := strings.ToLower(keyStrip.ReplaceAllString(b.String(), ""))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
