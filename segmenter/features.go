package segmenter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/internal/textutil"
)

// Kind identifies a feature template.
type Kind uint8

const (
	KindBias Kind = iota
	KindChar
	KindType
	KindCharPrev2
	KindTypePrev2
	KindCharPrev
	KindTypePrev
	KindCharNext
	KindTypeNext
	KindCharNext2
	KindTypeNext2
	KindBigramPrev
	KindBigramNext
	KindTypeChange
	KindBOS
	KindEOS
	KindParticle
	KindAuxVerb
	KindDictStart
	KindDictEnd

	numKinds
)

// DictMaxLen bounds the dictionary boundary search.
const DictMaxLen = 10

// Key is the name a kind carries in the intermediate format and in
// model attribute names.
func (k Kind) Key() string {
	switch k {
	case KindBias:
		return "bias"
	case KindChar:
		return "char"
	case KindType:
		return "type"
	case KindCharPrev2:
		return "char[-2]"
	case KindTypePrev2:
		return "type[-2]"
	case KindCharPrev:
		return "char[-1]"
	case KindTypePrev:
		return "type[-1]"
	case KindCharNext:
		return "char[+1]"
	case KindTypeNext:
		return "type[+1]"
	case KindCharNext2:
		return "char[+2]"
	case KindTypeNext2:
		return "type[+2]"
	case KindBigramPrev:
		return "bigram[-1:0]"
	case KindBigramNext:
		return "bigram[0:+1]"
	case KindTypeChange:
		return "type_change"
	case KindBOS:
		return "BOS"
	case KindEOS:
		return "EOS"
	case KindParticle:
		return "joshi"
	case KindAuxVerb:
		return "jodoushi"
	case KindDictStart:
		return "dict_start_len"
	case KindDictEnd:
		return "dict_end_len"
	}
	return fmt.Sprintf("kind%d", uint8(k))
}

var kindByKey = func() map[string]Kind {
	m := make(map[string]Kind, numKinds)
	for k := range numKinds {
		m[k.Key()] = k
	}
	return m
}()

// ParseKind resolves a key produced by Kind.Key.
func ParseKind(key string) (Kind, bool) {
	k, ok := kindByKey[key]
	return k, ok
}

// Feature is one active feature at a position.
type Feature struct {
	Kind  Kind
	Value string
}

// String renders the feature as key=value.
func (f Feature) String() string {
	return f.Kind.Key() + "=" + f.Value
}

// ParseFeature parses a key=value pair. The key never contains '=', so
// the first '=' separates key and value.
func ParseFeature(pair string) (Feature, error) {
	key, value, ok := strings.Cut(pair, "=")
	if !ok {
		return Feature{}, fmt.Errorf("feature %q has no value", pair)
	}
	kind, ok := ParseKind(key)
	if !ok {
		return Feature{}, fmt.Errorf("unknown feature key %q", key)
	}
	return Feature{Kind: kind, Value: value}, nil
}

// FeatureSet is the ordered feature list of one position.
type FeatureSet []Feature

// Item converts fs to a CRF attribute list.
func (fs FeatureSet) Item() crf.Item {
	item := make(crf.Item, len(fs))
	for i, f := range fs {
		item[i] = crf.Attribute{Name: f.String(), Value: 1}
	}
	return item
}

// Items converts a feature sequence to CRF input.
func Items(seq []FeatureSet) []crf.Item {
	items := make([]crf.Item, len(seq))
	for i, fs := range seq {
		items[i] = fs.Item()
	}
	return items
}

// Extract computes one FeatureSet per token. lex may be nil, in which
// case no dictionary boundary features are produced.
func Extract(tokens []string, lex Lexicon) []FeatureSet {
	out := make([]FeatureSet, len(tokens))
	classes := make([]string, len(tokens))
	for i, tok := range tokens {
		classes[i] = string(textutil.ClassOf(tok))
	}
	for i := range tokens {
		out[i] = extractAt(tokens, classes, i, lex)
	}
	return out
}

func extractAt(tokens, classes []string, i int, lex Lexicon) FeatureSet {
	n := len(tokens)
	c, ct := tokens[i], classes[i]

	fs := FeatureSet{
		{KindBias, "1"},
		{KindChar, c},
		{KindType, ct},
	}

	if i >= 1 {
		fs = append(fs,
			Feature{KindCharPrev, tokens[i-1]},
			Feature{KindTypePrev, classes[i-1]},
			Feature{KindBigramPrev, tokens[i-1] + c},
			Feature{KindTypeChange, strconv.FormatBool(classes[i-1] != ct)},
		)
	} else {
		fs = append(fs, Feature{KindBOS, "1"})
	}
	if i >= 2 {
		fs = append(fs,
			Feature{KindCharPrev2, tokens[i-2]},
			Feature{KindTypePrev2, classes[i-2]},
		)
	}
	if i < n-1 {
		fs = append(fs,
			Feature{KindCharNext, tokens[i+1]},
			Feature{KindTypeNext, classes[i+1]},
			Feature{KindBigramNext, c + tokens[i+1]},
		)
	} else {
		fs = append(fs, Feature{KindEOS, "1"})
	}
	if i < n-2 {
		fs = append(fs,
			Feature{KindCharNext2, tokens[i+2]},
			Feature{KindTypeNext2, classes[i+2]},
		)
	}

	for length := 1; length <= min(i+1, max(joshiMaxLen, jodoushiMaxLen)); length++ {
		sub := strings.Join(tokens[i-length+1:i+1], "")
		if length <= joshiMaxLen && joshi.Contains(sub) {
			fs = append(fs, Feature{KindParticle, sub})
		}
		if length <= jodoushiMaxLen && jodoushi.Contains(sub) {
			fs = append(fs, Feature{KindAuxVerb, sub})
		}
	}

	if lex != nil {
		for length := 2; length <= min(n-i, DictMaxLen); length++ {
			if lex.Contains(strings.Join(tokens[i:i+length], "")) {
				fs = append(fs, Feature{KindDictStart, strconv.Itoa(length)})
				break
			}
		}
		for length := 2; length <= min(i+1, DictMaxLen); length++ {
			if lex.Contains(strings.Join(tokens[i-length+1:i+1], "")) {
				fs = append(fs, Feature{KindDictEnd, strconv.Itoa(length)})
				break
			}
		}
	}
	return fs
}
