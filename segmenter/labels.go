// Package segmenter splits kana readings into bunsetsu with a CRF and
// tags each one as a dictionary lookup or a passthrough.
package segmenter

import "fmt"

// Label is the per-token segmentation tag.
type Label uint8

const (
	LookupBegin Label = iota
	LookupInside
	PassthroughBegin
	PassthroughInside
)

// Labels lists every label in model order.
var Labels = []Label{LookupBegin, LookupInside, PassthroughBegin, PassthroughInside}

func (l Label) String() string {
	switch l {
	case LookupBegin:
		return "B-L"
	case LookupInside:
		return "I-L"
	case PassthroughBegin:
		return "B-P"
	case PassthroughInside:
		return "I-P"
	}
	return fmt.Sprintf("Label(%d)", uint8(l))
}

// ParseLabel parses the wire form of a label.
func ParseLabel(s string) (Label, error) {
	switch s {
	case "B-L":
		return LookupBegin, nil
	case "I-L":
		return LookupInside, nil
	case "B-P":
		return PassthroughBegin, nil
	case "I-P":
		return PassthroughInside, nil
	}
	return 0, fmt.Errorf("unknown label %q", s)
}

// IsBegin reports whether l opens a bunsetsu.
func (l Label) IsBegin() bool {
	return l == LookupBegin || l == PassthroughBegin
}

// IsPassthrough reports whether l belongs to a passthrough bunsetsu.
func (l Label) IsPassthrough() bool {
	return l == PassthroughBegin || l == PassthroughInside
}

// Begin returns the begin label of the same sub-type.
func (l Label) Begin() Label {
	if l.IsPassthrough() {
		return PassthroughBegin
	}
	return LookupBegin
}

// Inside returns the inside label of the same sub-type.
func (l Label) Inside() Label {
	if l.IsPassthrough() {
		return PassthroughInside
	}
	return LookupInside
}

// WellFormed reports whether labels never open with an inside label and
// every inside label follows a label of its own sub-type.
func WellFormed(labels []Label) bool {
	for i, l := range labels {
		if l.IsBegin() {
			continue
		}
		if i == 0 || labels[i-1].IsPassthrough() != l.IsPassthrough() {
			return false
		}
	}
	return true
}

func labelNames() []string {
	names := make([]string, len(Labels))
	for i, l := range Labels {
		names[i] = l.String()
	}
	return names
}
