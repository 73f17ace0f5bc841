package segmenter

import "unicode/utf8"

// Lexicon is a set of known readings consulted by the dictionary
// boundary features.
type Lexicon interface {
	Contains(reading string) bool
}

// ReadingSet is a Lexicon backed by a map.
type ReadingSet map[string]struct{}

// NewReadingSet builds a ReadingSet from readings.
func NewReadingSet(readings ...string) ReadingSet {
	s := make(ReadingSet, len(readings))
	for _, r := range readings {
		s[r] = struct{}{}
	}
	return s
}

// Contains implements Lexicon.
func (s ReadingSet) Contains(reading string) bool {
	_, ok := s[reading]
	return ok
}

// Particles (joshi).
var joshi = NewReadingSet(
	"が", "を", "に", "へ", "で", "と", "から", "より", "まで",
	"て", "ば", "けど", "けれど", "けれども", "ながら", "のに", "ので", "たり", "し",
	"は", "も", "こそ", "さえ", "でも", "しか", "ばかり", "だけ", "ほど", "くらい", "ぐらい",
	"など", "なり", "やら",
	"か", "よ", "ね", "な", "ぞ", "わ", "さ",
	"の", "や",
)

// Auxiliary verbs (jodoushi).
var jodoushi = NewReadingSet(
	"れる", "られる", "せる", "させる",
	"ない", "たい", "た", "だ", "ます", "です",
	"う", "よう", "まい", "らしい",
)

var (
	joshiMaxLen    = maxRuneLen(joshi)
	jodoushiMaxLen = maxRuneLen(jodoushi)
)

func maxRuneLen(s ReadingSet) int {
	n := 0
	for r := range s {
		n = max(n, utf8.RuneCountInString(r))
	}
	return n
}
