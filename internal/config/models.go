package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	BackendONNX = "onnx"
	BackendHTTP = "http"
)

// ClassifierConfig describes one entry of the classifier registry file.
type ClassifierConfig struct {
	Disease    string
	Backend    string
	Path       string
	URL        string
	Arity      int
	InputSize  int
	Layout     string
	InputName  string
	OutputName string
	Timeout    time.Duration
}

type modelsFile struct {
	Classifiers []rawClassifier `toml:"classifier"`
}

type rawClassifier struct {
	Disease    string `toml:"disease"`
	Backend    string `toml:"backend"`
	Path       string `toml:"path"`
	URL        string `toml:"url"`
	Arity      int    `toml:"arity"`
	InputSize  int    `toml:"input_size"`
	Layout     string `toml:"layout"`
	InputName  string `toml:"input_name"`
	OutputName string `toml:"output_name"`
	Timeout    string `toml:"timeout"`
}

// DefaultClassifiers is the registry used when no registry file exists: the
// three ONNX exports under models/.
func DefaultClassifiers() []ClassifierConfig {
	return []ClassifierConfig{
		withDefaults(ClassifierConfig{Disease: "pneumonia", Path: "models/pneumonia.onnx", Arity: 1}),
		withDefaults(ClassifierConfig{Disease: "tuberculosis", Path: "models/tuberculosis.onnx", Arity: 1}),
		withDefaults(ClassifierConfig{Disease: "lung_cancer", Path: "models/lung_cancer.onnx", Arity: 3}),
	}
}

// LoadClassifiers reads the TOML registry file. A missing file falls back to
// DefaultClassifiers.
func LoadClassifiers(path string) ([]ClassifierConfig, error) {
	var raw modelsFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultClassifiers(), nil
		}
		return nil, fmt.Errorf("load models config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("models config: unknown keys %s", strings.Join(keys, ", "))
	}

	out := make([]ClassifierConfig, 0, len(raw.Classifiers))
	seen := map[string]bool{}
	for i, rc := range raw.Classifiers {
		cfg := ClassifierConfig{
			Disease:    strings.ToLower(strings.TrimSpace(rc.Disease)),
			Backend:    strings.ToLower(strings.TrimSpace(rc.Backend)),
			Path:       strings.TrimSpace(rc.Path),
			URL:        strings.TrimSpace(rc.URL),
			Arity:      rc.Arity,
			InputSize:  rc.InputSize,
			Layout:     strings.ToLower(strings.TrimSpace(rc.Layout)),
			InputName:  strings.TrimSpace(rc.InputName),
			OutputName: strings.TrimSpace(rc.OutputName),
		}
		if t := strings.TrimSpace(rc.Timeout); t != "" {
			d, err := time.ParseDuration(t)
			if err != nil {
				return nil, fmt.Errorf("classifier[%d]: parse timeout: %w", i, err)
			}
			cfg.Timeout = d
		}
		cfg = withDefaults(cfg)
		if err := ValidateClassifier(cfg); err != nil {
			return nil, fmt.Errorf("classifier[%d] invalid: %w", i, err)
		}
		if seen[cfg.Disease] {
			return nil, fmt.Errorf("classifier[%d] invalid: duplicate disease %q", i, cfg.Disease)
		}
		seen[cfg.Disease] = true
		out = append(out, cfg)
	}
	return out, nil
}

func withDefaults(cfg ClassifierConfig) ClassifierConfig {
	if cfg.Backend == "" {
		cfg.Backend = BackendONNX
	}
	if cfg.InputSize == 0 {
		cfg.InputSize = 224
	}
	if cfg.Layout == "" {
		cfg.Layout = "nhwc"
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return cfg
}

// ValidateClassifier checks an entry after defaults are applied. Arity is not
// range-checked here: an unsupported arity is reported per request as an
// invalid output shape.
func ValidateClassifier(cfg ClassifierConfig) error {
	if cfg.Disease == "" {
		return fmt.Errorf("disease is required")
	}
	if cfg.Arity <= 0 {
		return fmt.Errorf("arity must be positive")
	}
	switch cfg.Backend {
	case BackendONNX:
		if cfg.Path == "" {
			return fmt.Errorf("path is required for onnx backend")
		}
	case BackendHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("url is required for http backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}
