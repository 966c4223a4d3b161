package slug_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/slug"
	"github.com/stokaro/behave/core/metadata"
)

func TestUrlize(t *testing.T) {
	tests := []struct {
		in        string
		separator string
		want      string
	}{
		{in: "Hello, World!", separator: "-", want: "hello-world"},
		{in: "  Crème brûlée  ", separator: "-", want: "creme-brulee"},
		{in: "Straße & Co.", separator: "-", want: "strasse-and-co"},
		{in: "Łódź", separator: "-", want: "lodz"},
		{in: "Ångström_unit", separator: "-", want: "angstrom-unit"},
		{in: "ﬁle  2024", separator: "-", want: "file-2024"},
		{in: "a--b", separator: "-", want: "a-b"},
		{in: "Привет мир", separator: "-", want: "privet-mir"},
		{in: "Ёжик в тумане", separator: "-", want: "yozhik-v-tumane"},
		{in: "Їжак і Йод", separator: "-", want: "yizhak-i-yod"},
		{in: "Καλημέρα κόσμε", separator: "-", want: "kalimera-kosme"},
		{in: "東京", separator: "-", want: "東京"},
		{in: "Hello World", separator: "_", want: "hello_world"},
		{in: "!!!", separator: "-", want: ""},
		{in: "", separator: "-", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(slug.Urlize(tt.in, tt.separator), qt.Equals, tt.want)
		})
	}
}

func TestUrlize_Deterministic(t *testing.T) {
	c := qt.New(t)
	first := slug.Urlize("Hello, World!", "-")
	for range 10 {
		c.Assert(slug.Urlize("Hello, World!", "-"), qt.Equals, first)
	}
}

func TestFormat_Styles(t *testing.T) {
	tests := []struct {
		style string
		want  string
	}{
		{style: metadata.StyleLower, want: "hello-world"},
		{style: metadata.StyleUpper, want: "HELLO-WORLD"},
		{style: metadata.StyleCamel, want: "Hello-World"},
		{style: metadata.StyleDefault, want: "Hello-wORLD"},
	}

	for _, tt := range tests {
		t.Run(tt.style, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(slug.Format("Hello wORLD", "-", tt.style), qt.Equals, tt.want)
		})
	}
}

func TestFormat_CyrillicKeepsCase(t *testing.T) {
	c := qt.New(t)
	c.Assert(slug.Format("Жук ЩИТ", "-", metadata.StyleDefault), qt.Equals, "Zhuk-ShchIT")
}
