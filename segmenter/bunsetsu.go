package segmenter

import "strings"

// Bunsetsu is one segment of a reading.
type Bunsetsu struct {
	Text        string `json:"text"`
	Passthrough bool   `json:"passthrough,omitempty"`
}

// BunsetsuFromLabels groups tokens into bunsetsu. A begin label opens a
// new segment, and so does an inside label that cannot continue the
// current one (a leading inside label, or one of the other sub-type);
// such labels are treated as the matching begin label.
func BunsetsuFromLabels(tokens []string, labels []Label) []Bunsetsu {
	n := min(len(tokens), len(labels))
	var out []Bunsetsu
	var cur strings.Builder
	var curPass bool
	open := false

	for i := range n {
		l := labels[i]
		if l.IsBegin() || !open || l.IsPassthrough() != curPass {
			if open {
				out = append(out, Bunsetsu{Text: cur.String(), Passthrough: curPass})
				cur.Reset()
			}
			open = true
			curPass = l.IsPassthrough()
		}
		cur.WriteString(tokens[i])
	}
	if open {
		out = append(out, Bunsetsu{Text: cur.String(), Passthrough: curPass})
	}
	return out
}

// Repair rewrites labels in place so that they are well formed, applying
// the same promotion rule as BunsetsuFromLabels.
func Repair(labels []Label) []Label {
	for i, l := range labels {
		if l.IsBegin() {
			continue
		}
		if i == 0 || labels[i-1].IsPassthrough() != l.IsPassthrough() {
			labels[i] = l.Begin()
		}
	}
	return labels
}

// Format renders bunsetsu space separated, wrapping passthrough ones in
// underscores. The result parses back to the same segmentation.
func Format(bs []Bunsetsu) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		if b.Passthrough {
			parts[i] = "_" + b.Text + "_"
		} else {
			parts[i] = b.Text
		}
	}
	return strings.Join(parts, " ")
}

// Join concatenates the bunsetsu texts.
func Join(bs []Bunsetsu) string {
	var sb strings.Builder
	for _, b := range bs {
		sb.WriteString(b.Text)
	}
	return sb.String()
}
