package config

func Defaults() *Config {
	return &Config{
		Appliance: ApplianceConfig{
			URL:            "http://pi.hole/api",
			PasswordSource: "config",
			PasswordEnv:    EnvPassword,
			SessionHeader:  "X-FTL-SID",
			TimeoutSeconds: 10,
		},
		Session: SessionConfig{
			TokenPath:        "~/.holectl/session.sid",
			FreshnessSeconds: 250,
		},
		Log: LogConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled: false,
			DBPath:  "~/.holectl/audit.db",
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               8787,
			RateLimitPerMinute: 120,
			RateLimitBurst:     20,
		},
	}
}
