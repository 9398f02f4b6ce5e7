package guid

import (
	"strings"
	"testing"
)

func TestDerive(t *testing.T) {
	t.Run("is deterministic for identical fields", func(t *testing.T) {
		a := Derive([]string{"front text", "back text"})
		b := Derive([]string{"front text", "back text"})
		if a != b {
			t.Errorf("Expected identical guids, got %q and %q", a, b)
		}
	})

	t.Run("changes when one field byte changes", func(t *testing.T) {
		a := Derive([]string{"front text", "back text"})
		b := Derive([]string{"front text", "back texu"})
		if a == b {
			t.Error("Expected different guids for different field content")
		}
	})

	t.Run("is sensitive to field boundaries", func(t *testing.T) {
		a := Derive([]string{"ab", "c"})
		b := Derive([]string{"a", "bc"})
		if a == b {
			t.Error("Expected field boundary to affect the guid")
		}
	})

	t.Run("uses only the 91-symbol alphabet", func(t *testing.T) {
		g := Derive([]string{"What is Go?", "A programming language."})
		if g == "" {
			t.Fatal("Expected a non-empty guid")
		}
		for _, r := range g {
			if !strings.ContainsRune(alphanumerics+symbols, r) {
				t.Errorf("Guid %q contains symbol %q outside the alphabet", g, r)
			}
		}
	})

	t.Run("guids are short base91 strings", func(t *testing.T) {
		// 8 bytes in base 91 never needs more than 10 digits.
		g := Derive([]string{"a"})
		if len(g) == 0 || len(g) > 10 {
			t.Errorf("Expected guid length in [1,10], got %d (%q)", len(g), g)
		}
	})
}
