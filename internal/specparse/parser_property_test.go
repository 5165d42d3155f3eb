//go:build property
// +build property

package specparse_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/kamal2602/thinkhub-sub001/internal/specparse"
)

// Property: "NxSIZEGB" always yields exactly N entries of SIZEGB.
func TestPrefixMultiplierCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("prefix multiplier expands to N entries", prop.ForAll(
		func(n, size int) bool {
			got := specparse.Parse(fmt.Sprintf("%dx%dGB", n, size))
			if len(got) != n {
				return false
			}
			want := fmt.Sprintf("%dGB", size)
			for _, c := range got {
				if c.Capacity != want || c.Quantity != 1 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, specparse.MaxMultiplier),
		gen.IntRange(1, 4096),
	))

	properties.Property("parenthetical breakdown expands to inner N", prop.ForAll(
		func(n, size int) bool {
			got := specparse.Parse(fmt.Sprintf("%dGB (%dx%dGB)", n*size, n, size))
			return len(got) == n
		},
		gen.IntRange(1, specparse.MaxMultiplier),
		gen.IntRange(1, 256),
	))

	properties.TestingRun(t)
}

// Property: text without digits always falls back to one verbatim entry.
func TestFallbackIsVerbatim(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("non-numeric text yields one verbatim entry", prop.ForAll(
		func(s string) bool {
			got := specparse.Parse(s)
			return len(got) == 1 && got[0].Capacity == s
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
