// Package matcher parses supplier SKUs into structured attributes and
// fuzzy-scores catalog candidates against them. It is deterministic and
// side-effect free so that identifier resolution stays reproducible.
package matcher

import (
	"sort"
	"strings"
	"unicode"
)

// Score weights. Components are additive and the total is capped at MaxScore.
const (
	// MaxScore is the upper bound of any candidate score.
	MaxScore = 100

	// scoreExactVariantKey dominates all other components: an exact key match
	// on any candidate variant is near-certain identity.
	scoreExactVariantKey = 50

	// scoreBaseCodeMatch is awarded when the parsed base code appears in the
	// candidate title or in one of its variant keys.
	scoreBaseCodeMatch = 25

	// scoreColorMatch and scoreSizeMatch reward matching attribute tokens.
	scoreColorMatch = 15
	scoreSizeMatch  = 10
)

// ParsedSKU is the structured form of a supplier SKU.
type ParsedSKU struct {
	// Raw is the SKU exactly as received.
	Raw string

	// BaseCode groups variants of one product. Falls back to the raw SKU
	// when the format is not recognized.
	BaseCode string

	// Color is the canonical color token, empty if none was found.
	Color string

	// Size is the canonical size token, empty if none was found.
	Size string
}

// Candidate is one catalog entry considered for a match.
type Candidate struct {
	// Title is the human-readable product title.
	Title string

	// VariantKeys are the SKUs of the candidate's variants.
	VariantKeys []string
}

// colorAliases maps known color spellings to canonical tokens.
var colorAliases = map[string]string{
	"wht":      "white",
	"white":    "white",
	"blk":      "black",
	"black":    "black",
	"gry":      "grey",
	"gray":     "grey",
	"grey":     "grey",
	"nvy":      "navy",
	"navy":     "navy",
	"red":      "red",
	"blu":      "blue",
	"blue":     "blue",
	"grn":      "green",
	"green":    "green",
	"ylw":      "yellow",
	"yellow":   "yellow",
	"pnk":      "pink",
	"pink":     "pink",
	"prpl":     "purple",
	"purple":   "purple",
	"brn":      "brown",
	"brown":    "brown",
	"bge":      "beige",
	"beige":    "beige",
	"crm":      "cream",
	"cream":    "cream",
	"slvr":     "silver",
	"silver":   "silver",
	"gld":      "gold",
	"gold":     "gold",
	"org":      "orange",
	"orange":   "orange",
	"burg":     "burgundy",
	"burgundy": "burgundy",
	"ivory":    "ivory",
	"khaki":    "khaki",
	"olive":    "olive",
	"teal":     "teal",
	"coral":    "coral",
	"charcoal": "charcoal",
	"multi":    "multi",
}

// sizeAliases maps known size spellings to canonical tokens.
var sizeAliases = map[string]string{
	"xxsmall": "XXS",
	"xxs":     "XXS",
	"xsmall":  "XS",
	"xs":      "XS",
	"small":   "S",
	"sm":      "S",
	"s":       "S",
	"medium":  "M",
	"med":     "M",
	"m":       "M",
	"large":   "L",
	"lg":      "L",
	"l":       "L",
	"xlarge":  "XL",
	"xl":      "XL",
	"xxlarge": "XXL",
	"xxl":     "XXL",
	"2xl":     "XXL",
	"3xl":     "XXXL",
	"onesize": "OS",
	"os":      "OS",
}

// StandardizeColor maps a color alias to its canonical token. Unknown tokens
// pass through unchanged.
func StandardizeColor(token string) string {
	if canonical, ok := colorAliases[strings.ToLower(strings.TrimSpace(token))]; ok {
		return canonical
	}
	return token
}

// StandardizeSize maps a size alias to its canonical token. Unknown tokens
// are upper-cased.
func StandardizeSize(token string) string {
	normalized := strings.ToLower(strings.TrimSpace(token))
	if canonical, ok := sizeAliases[normalized]; ok {
		return canonical
	}
	return strings.ToUpper(strings.TrimSpace(token))
}

// Parse splits a supplier SKU into base code, color, and size. It never
// fails: unrecognized formats return a ParsedSKU whose BaseCode is the raw
// SKU with empty attributes.
//
// The expected shape is "<vendor>_<base>-<color>-<size>[-<tag>...]", for
// example "noxa_E467W-White-2-CCSALE" parses to base "E467W", color "white",
// size "2". The vendor prefix and trailing tags are discarded.
func Parse(sku string) ParsedSKU {
	parsed := ParsedSKU{Raw: sku, BaseCode: sku}

	trimmed := strings.TrimSpace(sku)
	if trimmed == "" {
		return parsed
	}
	parsed.BaseCode = trimmed

	// Strip the vendor prefix, if any.
	if _, rest, found := strings.Cut(trimmed, "_"); found && rest != "" {
		trimmed = rest
	}

	tokens := strings.Split(trimmed, "-")
	if len(tokens) == 0 || tokens[0] == "" {
		return parsed
	}
	parsed.BaseCode = tokens[0]

	for _, token := range tokens[1:] {
		if token == "" {
			continue
		}
		if parsed.Color == "" && isColorToken(token) {
			parsed.Color = StandardizeColor(token)
			continue
		}
		if parsed.Size == "" && isSizeToken(token) {
			parsed.Size = StandardizeSize(token)
			continue
		}
		// Anything else (sale tags, lot codes) is discarded.
	}

	return parsed
}

// isColorToken reports whether the token is a recognized color spelling.
func isColorToken(token string) bool {
	_, ok := colorAliases[strings.ToLower(token)]
	return ok
}

// isSizeToken reports whether the token plausibly denotes a size: a known
// alias or a short numeric value such as "2" or "10.5".
func isSizeToken(token string) bool {
	normalized := strings.ToLower(token)
	if _, ok := sizeAliases[normalized]; ok {
		return true
	}
	if len(normalized) == 0 || len(normalized) > 5 {
		return false
	}
	for _, r := range normalized {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return unicode.IsDigit(rune(normalized[0]))
}

// Score rates how well a candidate matches the parsed SKU on a 0..MaxScore
// scale. The components are additive: an exact variant key match dominates,
// followed by base code, color, and size matches.
func Score(parsed ParsedSKU, candidate Candidate) int {
	score := 0

	for _, key := range candidate.VariantKeys {
		if strings.EqualFold(key, parsed.Raw) {
			score += scoreExactVariantKey
			break
		}
	}

	if parsed.BaseCode != "" && matchesBaseCode(parsed.BaseCode, candidate) {
		score += scoreBaseCodeMatch
	}

	if parsed.Color != "" && matchesColor(parsed.Color, candidate) {
		score += scoreColorMatch
	}

	if parsed.Size != "" && matchesSize(parsed.Size, candidate) {
		score += scoreSizeMatch
	}

	if score > MaxScore {
		score = MaxScore
	}
	return score
}

// Rank orders candidates by descending score. The sort is stable, so ties
// keep their original candidate order.
func Rank(parsed ParsedSKU, candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Score(parsed, ranked[i]) > Score(parsed, ranked[j])
	})
	return ranked
}

func matchesBaseCode(baseCode string, candidate Candidate) bool {
	needle := strings.ToLower(baseCode)
	if strings.Contains(strings.ToLower(candidate.Title), needle) {
		return true
	}
	for _, key := range candidate.VariantKeys {
		if strings.Contains(strings.ToLower(key), needle) {
			return true
		}
	}
	return false
}

func matchesColor(color string, candidate Candidate) bool {
	if containsToken(candidate.Title, color) {
		return true
	}
	for _, key := range candidate.VariantKeys {
		for _, token := range splitTokens(key) {
			if StandardizeColor(token) == color {
				return true
			}
		}
	}
	return false
}

func matchesSize(size string, candidate Candidate) bool {
	if containsToken(candidate.Title, size) {
		return true
	}
	for _, key := range candidate.VariantKeys {
		for _, token := range splitTokens(key) {
			if StandardizeSize(token) == size {
				return true
			}
		}
	}
	return false
}

// containsToken reports whether text contains word as a whole token,
// case-insensitively.
func containsToken(text, word string) bool {
	for _, token := range splitTokens(text) {
		if strings.EqualFold(token, word) {
			return true
		}
	}
	return false
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
}
