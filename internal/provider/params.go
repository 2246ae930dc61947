package provider

import "docchat/internal/config"

// Overrides carries caller-supplied sampling parameters. A nil field keeps
// the per-format default.
type Overrides struct {
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
	Stop             []string
}

// Resolve merges o over the defaults of one format.
func Resolve(defaults config.SamplingConfig, o Overrides) config.SamplingConfig {
	out := defaults
	if o.Temperature != nil {
		out.Temperature = *o.Temperature
	}
	if o.TopP != nil {
		out.TopP = *o.TopP
	}
	if o.FrequencyPenalty != nil {
		out.FrequencyPenalty = *o.FrequencyPenalty
	}
	if o.PresencePenalty != nil {
		out.PresencePenalty = *o.PresencePenalty
	}
	if o.MaxTokens != nil {
		out.MaxTokens = *o.MaxTokens
	}
	if o.Stop != nil {
		out.Stop = append([]string(nil), o.Stop...)
	} else if defaults.Stop != nil {
		out.Stop = append([]string(nil), defaults.Stop...)
	}
	return out
}
