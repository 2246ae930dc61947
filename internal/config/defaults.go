package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
			HistoryLimit:          50,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Path: "/ws",
		},
		AI: AIConfig{
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
			Formats:        defaultFormats(),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "~/.docchat/docchat.db",
		},
		Storage: StorageConfig{
			Backend:           "local",
			Bucket:            "docchat",
			PresignTTLSeconds: 3600,
			LocalDir:          "~/.docchat/files",
			PublicBaseURL:     "http://localhost:8080/files",
		},
		Identity: IdentityConfig{
			TimeoutSeconds: 5,
		},
		Attachments: AttachmentsConfig{
			MaxBytes:      20 * 1024 * 1024,
			MaxPerMessage: 10,
		},
		Render: RenderConfig{
			FontPaths: defaultFontPaths(),
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// defaultFormats is the per-format sampling table. Structured formats run
// colder so the renderers get predictable shapes.
func defaultFormats() FormatsConfig {
	return FormatsConfig{
		Text:       SamplingConfig{Temperature: 0.7, TopP: 1.0, MaxTokens: 2048},
		PDF:        SamplingConfig{Temperature: 0.5, TopP: 0.9, FrequencyPenalty: 0.2, PresencePenalty: 0.1, MaxTokens: 3000},
		Word:       SamplingConfig{Temperature: 0.5, TopP: 0.9, FrequencyPenalty: 0.2, PresencePenalty: 0.1, MaxTokens: 3000},
		Excel:      SamplingConfig{Temperature: 0.2, TopP: 0.8, MaxTokens: 2000},
		PowerPoint: SamplingConfig{Temperature: 0.6, TopP: 0.9, FrequencyPenalty: 0.3, PresencePenalty: 0.2, MaxTokens: 2500},
		Checklist:  SamplingConfig{Temperature: 0.3, TopP: 0.9, FrequencyPenalty: 0.4, MaxTokens: 1500, Stop: []string{"\n\n\n"}},
		Business:   SamplingConfig{Temperature: 0.6, TopP: 0.95, FrequencyPenalty: 0.2, PresencePenalty: 0.2, MaxTokens: 3500},
		Analytics:  SamplingConfig{Temperature: 0.3, TopP: 0.85, FrequencyPenalty: 0.1, PresencePenalty: 0.1, MaxTokens: 3500},
	}
}

func defaultFontPaths() []string {
	return []string{
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/TTF/DejaVuSans.ttf",
		"/System/Library/Fonts/Supplemental/Arial Unicode.ttf",
		"/Library/Fonts/Arial Unicode.ttf",
		"C:\\Windows\\Fonts\\arial.ttf",
	}
}
