package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sku      string
		expected ParsedSKU
	}{
		{
			name: "vendor prefix with color size and sale tag",
			sku:  "noxa_E467W-White-2-CCSALE",
			expected: ParsedSKU{
				Raw:      "noxa_E467W-White-2-CCSALE",
				BaseCode: "E467W",
				Color:    "white",
				Size:     "2",
			},
		},
		{
			name: "color alias and alpha size",
			sku:  "acme_AB100-Wht-XSmall",
			expected: ParsedSKU{
				Raw:      "acme_AB100-Wht-XSmall",
				BaseCode: "AB100",
				Color:    "white",
				Size:     "XS",
			},
		},
		{
			name: "no vendor prefix",
			sku:  "E467W-Black-10",
			expected: ParsedSKU{
				Raw:      "E467W-Black-10",
				BaseCode: "E467W",
				Color:    "black",
				Size:     "10",
			},
		},
		{
			name: "base code only",
			sku:  "E467W",
			expected: ParsedSKU{
				Raw:      "E467W",
				BaseCode: "E467W",
			},
		},
		{
			name: "unrecognized tokens are discarded",
			sku:  "vendor_BASE-SOMETHINGLONG-LOTCODE9999",
			expected: ParsedSKU{
				Raw:      "vendor_BASE-SOMETHINGLONG-LOTCODE9999",
				BaseCode: "BASE",
			},
		},
		{
			name: "empty input degrades gracefully",
			sku:  "",
			expected: ParsedSKU{
				Raw:      "",
				BaseCode: "",
			},
		},
		{
			name: "whitespace only",
			sku:  "   ",
			expected: ParsedSKU{
				Raw:      "   ",
				BaseCode: "   ",
			},
		},
		{
			name: "decimal shoe size",
			sku:  "brand_SHOE1-Navy-10.5",
			expected: ParsedSKU{
				Raw:      "brand_SHOE1-Navy-10.5",
				BaseCode: "SHOE1",
				Color:    "navy",
				Size:     "10.5",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Parse(tt.sku))
		})
	}
}

func TestStandardizeColor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "white", StandardizeColor("wht"))
	assert.Equal(t, "white", StandardizeColor("White"))
	assert.Equal(t, "grey", StandardizeColor("gray"))
	assert.Equal(t, "navy", StandardizeColor("NVY"))
	// Unknown colors pass through unchanged.
	assert.Equal(t, "Heather", StandardizeColor("Heather"))
}

func TestStandardizeSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "XS", StandardizeSize("xsmall"))
	assert.Equal(t, "M", StandardizeSize("medium"))
	assert.Equal(t, "XXL", StandardizeSize("2xl"))
	assert.Equal(t, "OS", StandardizeSize("onesize"))
	// Unknown sizes are upper-cased.
	assert.Equal(t, "38EU", StandardizeSize("38eu"))
}

func TestScore(t *testing.T) {
	t.Parallel()

	parsed := Parse("noxa_E467W-White-2-CCSALE")

	tests := []struct {
		name      string
		candidate Candidate
		expected  int
	}{
		{
			name: "exact variant key dominates",
			candidate: Candidate{
				Title:       "Completely Different Product",
				VariantKeys: []string{"noxa_E467W-White-2-CCSALE"},
			},
			// An exact key necessarily also matches the base code, color,
			// and size tokens embedded in the key itself, capping the score.
			expected: MaxScore,
		},
		{
			name: "all components capped at max",
			candidate: Candidate{
				Title:       "E467W Evening Gown White 2",
				VariantKeys: []string{"noxa_E467W-White-2-CCSALE"},
			},
			expected: MaxScore,
		},
		{
			name: "base code in title only",
			candidate: Candidate{
				Title:       "Dress E467W Collection",
				VariantKeys: []string{"other-key"},
			},
			expected: scoreBaseCodeMatch,
		},
		{
			name: "base code and color",
			candidate: Candidate{
				Title:       "E467W Gown White",
				VariantKeys: nil,
			},
			expected: scoreBaseCodeMatch + scoreColorMatch,
		},
		{
			name: "size match via variant key token",
			candidate: Candidate{
				Title:       "Unrelated Gown",
				VariantKeys: []string{"XYZ-Black-2"},
			},
			expected: scoreSizeMatch,
		},
		{
			name:      "no overlap scores zero",
			candidate: Candidate{Title: "Socks", VariantKeys: []string{"SOCK-1"}},
			expected:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Score(parsed, tt.candidate))
		})
	}
}

func TestScoreExactKeyShortCircuitsToAtLeastHalf(t *testing.T) {
	t.Parallel()

	parsed := Parse("noxa_E467W-White-2-CCSALE")
	candidate := Candidate{VariantKeys: []string{"NOXA_E467W-WHITE-2-CCSALE"}}

	// Case-insensitive exact match still counts.
	assert.GreaterOrEqual(t, Score(parsed, candidate), 50)
}

func TestRankIsDeterministicAndStable(t *testing.T) {
	t.Parallel()

	parsed := Parse("noxa_E467W-White-2-CCSALE")
	candidates := []Candidate{
		{Title: "Tie A", VariantKeys: []string{"unrelated-1"}},
		{Title: "Tie B", VariantKeys: []string{"unrelated-2"}},
		{Title: "E467W White 2", VariantKeys: []string{"noxa_E467W-White-2-CCSALE"}},
	}

	first := Rank(parsed, candidates)
	require.Len(t, first, 3)
	assert.Equal(t, "E467W White 2", first[0].Title)
	// Equal-score candidates keep their input order.
	assert.Equal(t, "Tie A", first[1].Title)
	assert.Equal(t, "Tie B", first[2].Title)

	// Ranking is pure: repeated invocations agree exactly.
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Rank(parsed, candidates))
	}

	// The input slice is not mutated.
	assert.Equal(t, "Tie A", candidates[0].Title)
}
