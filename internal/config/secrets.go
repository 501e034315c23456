package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Exchange.APIKey)
	redact(&out.Exchange.APISecret)
	redact(&out.Exchange.SecretPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Trading.Symbols = append([]string(nil), cfg.Trading.Symbols...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	if cfg.Trading.Categories != nil {
		out.Trading.Categories = make(map[string][]string, len(cfg.Trading.Categories))
		for k, v := range cfg.Trading.Categories {
			out.Trading.Categories[k] = append([]string(nil), v...)
		}
	}

	return out
}

// redact replaces a non-empty string with "***".
func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
