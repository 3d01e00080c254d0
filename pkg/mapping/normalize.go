package mapping

import (
	"regexp"
	"strings"
)

var malignantNeoplasm = regexp.MustCompile(`^(.*)Malignant(.*)Neoplasm(.*)$`)

// RelabelCancer rewrites "<A>Malignant<B>Neoplasm<C>" to "<A><B>Cancer<C>".
// The match is case sensitive. The second result reports whether a rewrite
// happened.
func RelabelCancer(label string) (string, bool) {
	if !malignantNeoplasm.MatchString(label) {
		return label, false
	}
	return strings.TrimSpace(malignantNeoplasm.ReplaceAllString(label, "${1}${2}Cancer${3}")), true
}

// NormalizeValue trims and lowercases v. The literal "null" collapses to "".
func NormalizeValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return strings.ToLower(v)
}

func normalizePrimary(v string, relabel bool) string {
	v = strings.TrimSpace(v)
	if relabel {
		v, _ = RelabelCancer(v)
	}
	return NormalizeValue(strings.ReplaceAll(v, ",", ""))
}

// Normalize returns the canonical value set for schema s: exactly one entry
// per label, extra labels dropped. Applying it twice is a no-op.
func (s *Schema) Normalize(values map[string]string) map[string]string {
	out := make(map[string]string, len(s.Labels))
	for _, label := range s.Labels {
		raw := lookupLabel(values, label)
		if label == s.Primary {
			out[label] = normalizePrimary(raw, s.Relabel)
			continue
		}
		out[label] = NormalizeValue(raw)
	}
	return out
}

// lookupLabel accepts the exact label first and falls back to a case
// insensitive match, so "datasource" in an upstream payload still binds.
func lookupLabel(values map[string]string, label string) string {
	if v, ok := values[label]; ok {
		return v
	}
	for k, v := range values {
		if strings.EqualFold(k, label) {
			return v
		}
	}
	return ""
}
