package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		WhatsApp: WhatsAppConfig{
			DBPath:           "~/.wabridge/session.db",
			ProactiveReplies: false,
		},
		AI: AIConfig{
			APIBase:            "http://localhost:8000",
			TimeoutSeconds:     30,
			PollIntervalMs:     500,
			PollTimeoutSeconds: 120,
		},
		API: APIConfig{
			Enabled: true,
			Port:    3001,
		},
	}
}
