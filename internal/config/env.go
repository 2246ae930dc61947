package config

import (
	"fmt"
	"strconv"
	"strings"

	"docchat/internal/domain"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// samplingEnvKeys maps an env var prefix to the field it overrides.
// The full variable name is <prefix>_<FORMAT>, e.g. AI_TEMPERATURE_EXCEL.
var samplingEnvKeys = []struct {
	prefix string
	apply  func(s *SamplingConfig, v string) error
}{
	{"AI_TEMPERATURE", func(s *SamplingConfig, v string) error { return parseFloatInto(&s.Temperature, v) }},
	{"AI_TOP_P", func(s *SamplingConfig, v string) error { return parseFloatInto(&s.TopP, v) }},
	{"AI_FREQUENCY_PENALTY", func(s *SamplingConfig, v string) error { return parseFloatInto(&s.FrequencyPenalty, v) }},
	{"AI_PRESENCE_PENALTY", func(s *SamplingConfig, v string) error { return parseFloatInto(&s.PresencePenalty, v) }},
	{"AI_MAX_TOKENS", func(s *SamplingConfig, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		s.MaxTokens = n
		return nil
	}},
	{"AI_STOP", func(s *SamplingConfig, v string) error {
		s.Stop = nil
		for _, part := range strings.Split(v, "|") {
			if part != "" {
				s.Stop = append(s.Stop, part)
			}
		}
		return nil
	}},
}

// ApplyEnvOverrides overlays per-format sampling parameters from the
// environment. Unset variables leave the configured value alone.
func ApplyEnvOverrides(cfg *Config, lookup LookupFunc) error {
	for _, f := range domain.Formats() {
		target := cfg.AI.Formats.ptr(f)
		suffix := strings.ToUpper(string(f))
		for _, k := range samplingEnvKeys {
			name := k.prefix + "_" + suffix
			v, ok := lookup(name)
			if !ok || v == "" {
				continue
			}
			if err := k.apply(target, v); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func parseFloatInto(dst *float64, v string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}
