package signature

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

var knownLinks = []string{"website", "linkedin", "x", "twitter", "facebook", "instagram", "youtube"}

var linkLabels = map[string]string{
	"website":   "Website",
	"linkedin":  "LinkedIn",
	"x":         "X",
	"twitter":   "Twitter",
	"facebook":  "Facebook",
	"instagram": "Instagram",
	"youtube":   "YouTube",
}

// linkOrder returns the keys of links with the well-known networks first
// and everything else alphabetically.
func linkOrder(links map[string]string) []string {
	keys := make([]string, 0, len(links))
	for k := range links {
		keys = append(keys, k)
	}
	rank := func(k string) int {
		if i := slices.Index(knownLinks, strings.ToLower(k)); i >= 0 {
			return i
		}
		return len(knownLinks)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if ra, rb := rank(a), rank(b); ra != rb {
			return ra - rb
		}
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return keys
}

func linkLabel(key string) string {
	if l, ok := linkLabels[strings.ToLower(key)]; ok {
		return l
	}
	r, n := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return key
	}
	return string(unicode.ToUpper(r)) + key[n:]
}
