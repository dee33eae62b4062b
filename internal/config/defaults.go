package config

const (
	defaultDataDir                = "~/.local/share/reconcile"
	defaultLogDir                 = "~/.local/share/reconcile/logs"
	defaultAPIBind                = "127.0.0.1:7590"
	defaultAuthorityTimeout       = 10
	defaultAuthorityRPS           = 5
	defaultAuthorityBurst         = 5
	defaultBreakerFailures        = 5
	defaultBreakerCooldownSeconds = 30
	defaultMaxCandidates          = 10
	defaultAutoAcceptThreshold    = 0.95
	defaultReviewThreshold        = 0.70
	defaultConcurrency            = 1
	defaultSearchMinLength        = 2
	defaultSearchDebounceMillis   = 300
	defaultUnmatchedNote          = "No matching record in authority"
	defaultTieBreak               = TieBreakNone
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	// MinSearchLength is the hard floor for free-text candidate queries.
	MinSearchLength = 2
)

// Tie-break policies for equally scored candidates.
const (
	TieBreakNone = "none"
	TieBreakName = "name"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Authority: Authority{
			TimeoutSeconds:         defaultAuthorityTimeout,
			RequestsPerSecond:      defaultAuthorityRPS,
			Burst:                  defaultAuthorityBurst,
			BreakerFailures:        defaultBreakerFailures,
			BreakerCooldownSeconds: defaultBreakerCooldownSeconds,
			MaxCandidates:          defaultMaxCandidates,
		},
		Reconcile: Reconcile{
			AutoAcceptThreshold:  defaultAutoAcceptThreshold,
			ReviewThreshold:      defaultReviewThreshold,
			Concurrency:          defaultConcurrency,
			SearchMinLength:      defaultSearchMinLength,
			SearchDebounceMillis: defaultSearchDebounceMillis,
			DefaultUnmatchedNote: defaultUnmatchedNote,
			TieBreak:             defaultTieBreak,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled: true,
		},
	}
}
