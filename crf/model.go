package crf

import (
	"encoding/json"
	"fmt"
	"os"
)

// SaveModel serializes the model to JSON.
func SaveModel(model *Model, path string) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadModel deserializes a model from JSON.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}

// MarshalModel serializes the model to JSON bytes.
func MarshalModel(model *Model) ([]byte, error) {
	return json.Marshal(model)
}

// UnmarshalModel deserializes a model from JSON bytes and checks that
// the weight vector matches the alphabets.
func UnmarshalModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, err
	}
	if err := model.validate(); err != nil {
		return nil, err
	}
	return &model, nil
}

func (m *Model) validate() error {
	if m.Labels == nil || m.Attributes == nil {
		return fmt.Errorf("crf: model has no alphabets")
	}
	if m.NumLabels != m.Labels.Size() {
		return fmt.Errorf("crf: num_labels %d does not match %d labels", m.NumLabels, m.Labels.Size())
	}
	if len(m.Weights) != m.NumWeights() {
		return fmt.Errorf("crf: %d weights, want %d", len(m.Weights), m.NumWeights())
	}
	m.Labels.reindex()
	m.Attributes.reindex()
	return nil
}

// reindex rebuilds ToID from ToStr when the two disagree.
func (a *Alphabet) reindex() {
	if len(a.ToID) == len(a.ToStr) {
		return
	}
	a.ToID = make(map[string]int, len(a.ToStr))
	for id, s := range a.ToStr {
		a.ToID[s] = id
	}
}
