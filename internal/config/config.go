// Package config loads the gateway's static configuration and exposes the
// live-tunable subset admin verbs may adjust at runtime, following the
// flag+env-var loading style of the teacher's signaling config package.
package config

import (
	"flag"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// Config holds the gateway's static, start-of-day configuration.
type Config struct {
	BindAddr string // address the reference HTTP/WS carrier listens on
	Port     int

	APISecret      string // empty disables api-secret auth
	TokenAuth      bool   // enables opaque-token auth
	AdminSecret    string // empty disables admin-channel auth

	LogLevel  string
	LogColors bool

	SessionTimeout       time.Duration // 0 disables the idle sweeper
	SweepInterval        time.Duration
	TrickleBufferTTL     time.Duration
	CleaningWaitDeadline time.Duration
	WorkerIdleRetirement time.Duration
	DefaultNackQueue     int

	// FullTrickle, when set, makes every renegotiation set RESEND_TRICKLES
	// (spec.md §4.5), re-sending already-trickled candidates to the client
	// instead of relying on it to have cached them from the first round.
	FullTrickle bool
}

// Tunables holds the subset of configuration admin verbs may change live.
// Swapped atomically so readers never observe a torn update.
type Tunables struct {
	SessionTimeout time.Duration
	LogLevel       string
	MaxNackQueue   int
	NoMediaTimer   int

	LockingDebug  bool
	RefcountDebug bool
	LogTimestamps bool
	LogColors     bool
	LibniceDebug  bool
}

// live is the process-wide live-tunable snapshot, installed by Load and
// swapped by the admin protocol's set_* verbs.
var live atomic.Pointer[Tunables]

// LiveTunables returns the current tunable snapshot.
func LiveTunables() *Tunables {
	return live.Load()
}

// SetLiveTunables installs a new snapshot, typically a shallow copy of the
// current one with one field changed.
func SetLiveTunables(t *Tunables) {
	live.Store(t)
}

// Load builds a Config from command-line flags and environment variable
// overrides. It also seeds the live Tunables snapshot.
func Load() *Config {
	cfg := &Config{
		SweepInterval:        2 * time.Second,
		TrickleBufferTTL:     45 * time.Second,
		CleaningWaitDeadline: 3 * time.Second,
		WorkerIdleRetirement: 120 * time.Second,
		DefaultNackQueue:     200,
	}

	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "reference carrier bind address")
	flag.IntVar(&cfg.Port, "port", 8188, "reference carrier listen port")
	flag.StringVar(&cfg.APISecret, "apisecret", "", "API secret required on the client channel (disabled if empty)")
	flag.BoolVar(&cfg.TokenAuth, "token-auth", false, "enable opaque-token authorization")
	flag.StringVar(&cfg.AdminSecret, "adminsecret", "", "admin channel secret (disabled if empty)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.BoolVar(&cfg.LogColors, "log-colors", false, "enable ANSI color in log output")
	flag.BoolVar(&cfg.FullTrickle, "full-trickle", false, "re-send already-trickled candidates on every renegotiation")

	var sessionTimeoutSec int
	flag.IntVar(&sessionTimeoutSec, "session-timeout", 60, "idle session timeout in seconds (0 disables the sweeper)")
	flag.Parse()
	cfg.SessionTimeout = time.Duration(sessionTimeoutSec) * time.Second

	if v := os.Getenv("GATEWAY_APISECRET"); v != "" {
		cfg.APISecret = v
	}
	if v := os.Getenv("GATEWAY_ADMINSECRET"); v != "" {
		cfg.AdminSecret = v
	}
	if v := os.Getenv("GATEWAY_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GATEWAY_SESSION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.SessionTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("GATEWAY_FULL_TRICKLE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.FullTrickle = b
		}
	}

	SetLiveTunables(&Tunables{
		SessionTimeout: cfg.SessionTimeout,
		LogLevel:       cfg.LogLevel,
		MaxNackQueue:   cfg.DefaultNackQueue,
		LogColors:      cfg.LogColors,
	})

	return cfg
}
