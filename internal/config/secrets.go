package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***", suitable for logging the effective configuration at startup
// without leaking credentials.
func RedactedConfig(cfg *Config) Config {
	redacted := *cfg

	redact(&redacted.Wallet.PrivateKey)
	redact(&redacted.Wallet.KeyPassword)
	redact(&redacted.Postgres.DSN)
	redact(&redacted.Postgres.Password)
	redact(&redacted.Redis.Password)
	redact(&redacted.S3.AccessKey)
	redact(&redacted.S3.SecretKey)
	redact(&redacted.Server.AdminToken)

	// Deep-copy slice fields so mutating the redacted copy never aliases cfg.
	if cfg.Server.CORSOrigins != nil {
		redacted.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	return redacted
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
