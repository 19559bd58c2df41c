// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"testing"

	"github.com/voxstrap/voxstrap/internal/issue"
)

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.2", "1.2.0", 0},
		{"1.2.0.0", "1.2", 0},
		{"v2.0.0", "1.9.9", 1},
		{"1.9.9", "2.0.0", -1},
		{"1.10", "1.9", 1},
		{"0.0.1", "0", 1},
		{"3", "3.0.0.1", -1},
		{"V1.0", "v1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			t.Parallel()
			got, err := Compare(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Compare() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompare_AntisymmetricAndTransitive(t *testing.T) {
	t.Parallel()

	versions := []string{"0", "0.1", "1", "1.0.0", "1.0.1", "1.2", "1.2.0", "1.10", "2", "2.0.0.1", "10.0"}

	for _, a := range versions {
		for _, b := range versions {
			ab, _ := Compare(a, b)
			ba, _ := Compare(b, a)
			if ab != -ba {
				t.Errorf("antisymmetry: Compare(%s,%s)=%d, Compare(%s,%s)=%d", a, b, ab, b, a, ba)
			}
			for _, c := range versions {
				bc, _ := Compare(b, c)
				ac, _ := Compare(a, c)
				if ab <= 0 && bc <= 0 && ac > 0 {
					t.Errorf("transitivity: %s <= %s <= %s but Compare(%s,%s)=%d", a, b, c, a, c, ac)
				}
			}
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "v", "1..2", "1.x", "1.-2", "version-abc123", " "} {
		if _, err := Parse(s); !errors.Is(err, issue.ErrVersionParse) {
			t.Errorf("Parse(%q) error = %v, want ErrVersionParse", s, err)
		}
	}
}

func TestNewer(t *testing.T) {
	t.Parallel()

	if !Newer("2.0.0", "1.9.9") {
		t.Error("Newer(2.0.0, 1.9.9) = false")
	}
	if Newer("1.2", "1.2.0") {
		t.Error("Newer(1.2, 1.2.0) = true")
	}
	if Newer("1.0", "2.0") {
		t.Error("Newer(1.0, 2.0) = true")
	}
	if !Newer("version-def", "version-abc") {
		t.Error("unparseable differing identifiers should count as newer")
	}
	if Newer("version-abc", "version-abc") {
		t.Error("identical unparseable identifiers should not count as newer")
	}
}

func TestVersion_String(t *testing.T) {
	t.Parallel()

	v, err := Parse("v1.02.3")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "1.2.3" {
		t.Errorf("String() = %q, want 1.2.3", v.String())
	}
}
