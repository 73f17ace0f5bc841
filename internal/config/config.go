package config

import "github.com/happyhackingspace/henkan/crf"

// Config is the root configuration shared by the CLI commands.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Training TrainingConfig `yaml:"training"`
	Decode   DecodeConfig   `yaml:"decode"`
	Log      LogConfig      `yaml:"log"`
}

// PathsConfig locates the on-disk resources. Dictionaries are merged in
// the listed order.
type PathsConfig struct {
	Dictionaries []string `yaml:"dictionaries" env:"HENKAN_DICTIONARIES" env-separator:","`
	Corpus       []string `yaml:"corpus"       env:"HENKAN_CORPUS"       env-separator:","`
	Model        string   `yaml:"model"        env:"HENKAN_MODEL"        env-default:"henkan_model.json"`
	Materials    string   `yaml:"materials"    env:"HENKAN_MATERIALS"    env-default:"henkan_materials.json"`
	Features     string   `yaml:"features"     env:"HENKAN_FEATURES"     env-default:"henkan_features.tsv"`
}

// TrainingConfig holds CRF optimiser settings. cleanenv applies
// env-default to zero values, so the two switches default to false.
type TrainingConfig struct {
	C1                      float64 `yaml:"c1"                        env:"HENKAN_TRAINING_C1"                        env-default:"1.0"`
	C2                      float64 `yaml:"c2"                        env:"HENKAN_TRAINING_C2"                        env-default:"0.001"`
	MaxIterations           int     `yaml:"max_iterations"            env:"HENKAN_TRAINING_MAX_ITERATIONS"            env-default:"100"`
	Epsilon                 float64 `yaml:"epsilon"                   env:"HENKAN_TRAINING_EPSILON"                   env-default:"0.00001"`
	ObservedTransitionsOnly bool    `yaml:"observed_transitions_only" env:"HENKAN_TRAINING_OBSERVED_TRANSITIONS_ONLY"`
	AllPossibleStates       bool    `yaml:"all_possible_states"       env:"HENKAN_TRAINING_ALL_POSSIBLE_STATES"`
}

// DecodeConfig holds conversion-time settings.
type DecodeConfig struct {
	NBest     int    `yaml:"nbest"      env:"HENKAN_DECODE_NBEST"      env-default:"5"`
	CacheSize int    `yaml:"cache_size" env:"HENKAN_DECODE_CACHE_SIZE" env-default:"256"`
	Merge     string `yaml:"merge"      env:"HENKAN_DECODE_MERGE"      env-default:"max"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"HENKAN_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"HENKAN_LOG_FORMAT" env-default:"text"`
}

// TrainerConfig converts the training section to CRF trainer settings.
func (t TrainingConfig) TrainerConfig() crf.TrainerConfig {
	cfg := crf.DefaultTrainerConfig()
	cfg.C1 = t.C1
	cfg.C2 = t.C2
	cfg.MaxIterations = t.MaxIterations
	cfg.Epsilon = t.Epsilon
	cfg.AllPossibleTransitions = !t.ObservedTransitionsOnly
	cfg.AllPossibleStates = t.AllPossibleStates
	return cfg
}
