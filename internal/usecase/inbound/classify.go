package inbound

import "strings"

// Classification is the strip and category extracted from a report text.
type Classification struct {
	Strip    string
	Category string
}

const (
	// DefaultStrip is assumed when no token names a strip.
	DefaultStrip = "A1"
	// DefaultCategory is the "other/unknown" bucket.
	DefaultCategory = "A62"
)

// primaryKeywords map report vocabulary to category codes. The last matching
// token in the text wins.
var primaryKeywords = map[string]string{
	"grounding":  "A00",
	"separating": "A10",
	"straighten": "A11",
	"missing":    "A20",
	"batteries":  "A21",
	"machine":    "A30",
	"lame":       "A40",
	"epee":       "A41",
	"clip":       "A50",
	"bail":       "A51",
	"phantom":    "A60",
	"unknown":    "A62",
}

// secondaryKeywords are weaker hints, consulted only while the category still
// holds the default. A primary match takes priority regardless of token order.
var secondaryKeywords = map[string]string{
	"remote": "A22",
	"reel":   "A52",
}

// Classify tokenizes a free-form report and extracts the strip and category.
// Tokens are matched case-insensitively; a two-character [letter][digit]
// token is read as a strip name, last one wins.
func Classify(text string) Classification {
	c := Classification{Strip: DefaultStrip, Category: DefaultCategory}
	for _, raw := range strings.Fields(text) {
		token := strings.ToLower(raw)
		if len(token) == 2 && isLetter(token[0]) && isDigit(token[1]) {
			c.Strip = strings.ToUpper(token[:1]) + token[1:]
			continue
		}
		if code, ok := primaryKeywords[token]; ok {
			c.Category = code
			continue
		}
		if c.Category == DefaultCategory {
			if code, ok := secondaryKeywords[token]; ok {
				c.Category = code
			}
		}
	}
	return c
}

func isLetter(b byte) bool { return b >= 'a' && b <= 'z' }

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
