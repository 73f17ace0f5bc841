// Package textutil provides tokenisation and character classification
// for kana readings.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Class is the coarse script class of a token.
type Class string

const (
	Hiragana Class = "hiragana"
	Katakana Class = "katakana"
	Kanji    Class = "kanji"
	Digit    Class = "digit"
	Alpha    Class = "alpha"
	Symbol   Class = "symbol"
	Other    Class = "other"
)

// Tokenize splits a reading into decode units. Runs of ASCII letters and
// digits form one token, whitespace is dropped, and every other rune is
// a token of its own.
func Tokenize(text string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case isASCIIAlnum(r):
			word.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens = append(tokens, string(r))
		}
	}
	flush()
	return tokens
}

func isASCIIAlnum(r rune) bool {
	return r < 0x80 && (r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
}

// ClassOf classifies a token by its first rune.
func ClassOf(token string) Class {
	for _, r := range token {
		return classOfRune(r)
	}
	return Other
}

func classOfRune(r rune) Class {
	switch {
	case r >= 0x3040 && r <= 0x309F:
		return Hiragana
	case r >= 0x30A0 && r <= 0x30FF, r >= 0x31F0 && r <= 0x31FF:
		return Katakana
	case r >= 0x4E00 && r <= 0x9FFF, r >= 0x3400 && r <= 0x4DBF, r == 0x3005:
		return Kanji
	case r >= '0' && r <= '9':
		return Digit
	case r < 0x80 && unicode.IsLetter(r):
		return Alpha
	case unicode.IsPunct(r), unicode.IsSymbol(r):
		return Symbol
	}
	return Other
}

// KatakanaToHiragana maps katakana ァ..ヶ onto their hiragana forms and
// leaves every other rune alone.
func KatakanaToHiragana(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x30A1 && r <= 0x30F6 {
			return r - 0x60
		}
		return r
	}, s)
}

// NormalizeReading prepares user input for lookup and decoding. NFKC
// composes half-width kana, width folding narrows the remaining wide
// forms, katakana becomes hiragana and surrounding whitespace is trimmed.
func NormalizeReading(s string) string {
	s = width.Fold.String(norm.NFKC.String(s))
	return strings.TrimSpace(KatakanaToHiragana(s))
}
