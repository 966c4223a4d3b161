package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/stokaro/behave/core/metadata"
)

// Letters that do not decompose into a base letter plus marks, and letters
// whose marks change the transliteration.
var special = strings.NewReplacer(
	"ß", "ss", "ẞ", "SS",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"ø", "o", "Ø", "O",
	"đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D",
	"ł", "l", "Ł", "L",
	"þ", "th", "Þ", "TH",
	"ı", "i",
	"&", " and ",
	"й", "y", "Й", "Y",
	"ё", "yo", "Ё", "Yo",
	"ї", "yi", "Ї", "Yi",
	"ў", "u", "Ў", "U",
)

// Cyrillic and Greek base letters, applied once marks are stripped.
var scripts = strings.NewReplacer(
	"а", "a", "А", "A", "б", "b", "Б", "B", "в", "v", "В", "V",
	"г", "g", "Г", "G", "ґ", "g", "Ґ", "G", "д", "d", "Д", "D",
	"ђ", "dj", "Ђ", "Dj", "е", "e", "Е", "E", "є", "ye", "Є", "Ye",
	"ж", "zh", "Ж", "Zh", "з", "z", "З", "Z", "ѕ", "dz", "Ѕ", "Dz",
	"и", "i", "И", "I", "і", "i", "І", "I", "ј", "j", "Ј", "J",
	"к", "k", "К", "K", "ќ", "kj", "Ќ", "Kj", "л", "l", "Л", "L",
	"љ", "lj", "Љ", "Lj", "м", "m", "М", "M", "н", "n", "Н", "N",
	"њ", "nj", "Њ", "Nj", "о", "o", "О", "O", "п", "p", "П", "P",
	"р", "r", "Р", "R", "с", "s", "С", "S", "т", "t", "Т", "T",
	"ћ", "c", "Ћ", "C", "ѓ", "gj", "Ѓ", "Gj", "у", "u", "У", "U",
	"ф", "f", "Ф", "F", "х", "kh", "Х", "Kh", "ц", "ts", "Ц", "Ts",
	"ч", "ch", "Ч", "Ch", "џ", "dz", "Џ", "Dz", "ш", "sh", "Ш", "Sh",
	"щ", "shch", "Щ", "Shch", "ъ", "", "Ъ", "", "ы", "y", "Ы", "Y",
	"ь", "", "Ь", "", "э", "e", "Э", "E", "ю", "yu", "Ю", "Yu",
	"я", "ya", "Я", "Ya",

	"α", "a", "Α", "A", "β", "v", "Β", "V", "γ", "g", "Γ", "G",
	"δ", "d", "Δ", "D", "ε", "e", "Ε", "E", "ζ", "z", "Ζ", "Z",
	"η", "i", "Η", "I", "θ", "th", "Θ", "Th", "ι", "i", "Ι", "I",
	"κ", "k", "Κ", "K", "λ", "l", "Λ", "L", "μ", "m", "Μ", "M",
	"ν", "n", "Ν", "N", "ξ", "x", "Ξ", "X", "ο", "o", "Ο", "O",
	"π", "p", "Π", "P", "ρ", "r", "Ρ", "R", "σ", "s", "ς", "s",
	"Σ", "S", "τ", "t", "Τ", "T", "υ", "y", "Υ", "Y", "φ", "f",
	"Φ", "F", "χ", "ch", "Χ", "Ch", "ψ", "ps", "Ψ", "Ps", "ω", "o",
	"Ω", "O",
)

// Transliterate strips diacritics, spells out letters without an ASCII
// decomposition and romanizes Cyrillic and Greek. Other scripts pass
// through unchanged.
func Transliterate(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, special.Replace(text))
	if err != nil {
		return text
	}
	return scripts.Replace(out)
}

// Urlize turns text into a lower case slug: diacritics are stripped and every
// run of characters other than letters and digits becomes one separator.
//
//	Urlize("Hello, World!", "-") // "hello-world"
func Urlize(text, separator string) string {
	return Format(text, separator, metadata.StyleLower)
}

// Format is Urlize with a configurable letter case style.
func Format(text, separator, style string) string {
	words := strings.FieldsFunc(Transliterate(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		switch style {
		case metadata.StyleLower:
			words[i] = cases.Lower(language.Und).String(w)
		case metadata.StyleUpper:
			words[i] = cases.Upper(language.Und).String(w)
		case metadata.StyleCamel:
			words[i] = cases.Title(language.Und).String(w)
		}
	}
	return strings.Join(words, separator)
}
