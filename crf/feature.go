package crf

// BuildAttributeAlphabet builds the attribute alphabet from training
// sequences. IDs follow first appearance, so identical input order gives
// identical IDs.
func BuildAttributeAlphabet(sequences []TrainingSequence) *Alphabet {
	alpha := NewAlphabet()
	for _, seq := range sequences {
		for _, item := range seq.Items {
			for _, attr := range item {
				alpha.Add(attr.Name)
			}
		}
	}
	return alpha
}

// BuildLabelAlphabet builds the label alphabet from training sequences.
// Labels listed in seed are registered first, in order, even when the
// data never uses them.
func BuildLabelAlphabet(sequences []TrainingSequence, seed ...string) *Alphabet {
	alpha := NewAlphabet()
	for _, label := range seed {
		alpha.Add(label)
	}
	for _, seq := range sequences {
		for _, label := range seq.Labels {
			alpha.Add(label)
		}
	}
	return alpha
}
