package config

import (
	"fmt"
	"time"
)

// Device holds configuration for the point-of-sale device agent
type Device struct {
	Env string `yaml:"env"`

	// ListenAddr is the local address the UI talks to
	ListenAddr string `yaml:"listen_addr"`

	// DataPath is the SQLite file holding the offline queue and caches
	DataPath string `yaml:"data_path"`

	// Remote ledger
	LedgerURL     string `yaml:"ledger_url"`
	EnrollmentKey string `yaml:"enrollment_key"`

	// SecretSource is "server" (provisioned at authentication) or "local" (development only)
	SecretSource string `yaml:"secret_source"`

	// SigningPolicy is "refuse" or "provisional" and applies while no secret is provisioned
	SigningPolicy string `yaml:"signing_policy"`

	// LinkType is the connection class used for quality thresholds ("wifi", "ethernet" or "cellular")
	LinkType string `yaml:"link_type"`

	// StrictItemTotals rejects itemised transactions whose lines do not add up to the amount
	StrictItemTotals bool `yaml:"strict_item_totals"`

	// QRSpendLimit caps what a scanned wallet may spend offline
	QRSpendLimit string `yaml:"qr_spend_limit"`

	Sync  SyncSettings  `yaml:"sync"`
	Probe ProbeSettings `yaml:"probe"`
}

// SyncSettings configures the drain engine
type SyncSettings struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	SubmitTimeout     time.Duration `yaml:"submit_timeout"`
	MaxAge            time.Duration `yaml:"max_age"`
	ConcurrentWallets int           `yaml:"concurrent_wallets"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

// ProbeSettings configures the reachability monitor
type ProbeSettings struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultDevice returns the built-in device defaults
func DefaultDevice() *Device {
	return &Device{
		Env:           EnvDevelopment,
		ListenAddr:    "127.0.0.1:8787",
		DataPath:      "festpay.db",
		LedgerURL:     "http://localhost:8080",
		SecretSource:  "server",
		SigningPolicy: "provisional",
		LinkType:      "wifi",
		QRSpendLimit:  "150",
		Sync: SyncSettings{
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
			SubmitTimeout:     10 * time.Second,
			MaxAge:            7 * 24 * time.Hour,
			ConcurrentWallets: 3,
			PollInterval:      time.Minute,
		},
		Probe: ProbeSettings{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
}

// LoadDevice loads device configuration: defaults, then the optional YAML file, then environment variables
func LoadDevice(path string) (*Device, error) {
	cfg := DefaultDevice()

	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.Env = getEnv("FESTPAY_ENV", cfg.Env)
	cfg.ListenAddr = getEnv("FESTPAY_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DataPath = getEnv("FESTPAY_DATA_PATH", cfg.DataPath)
	cfg.LedgerURL = getEnv("FESTPAY_LEDGER_URL", cfg.LedgerURL)
	cfg.EnrollmentKey = getEnv("FESTPAY_ENROLLMENT_KEY", cfg.EnrollmentKey)
	cfg.SecretSource = getEnv("FESTPAY_SECRET_SOURCE", cfg.SecretSource)
	cfg.SigningPolicy = getEnv("FESTPAY_SIGNING_POLICY", cfg.SigningPolicy)
	cfg.LinkType = getEnv("FESTPAY_LINK_TYPE", cfg.LinkType)
	cfg.StrictItemTotals = getEnvAsBool("FESTPAY_STRICT_ITEM_TOTALS", cfg.StrictItemTotals)
	cfg.QRSpendLimit = getEnv("FESTPAY_QR_SPEND_LIMIT", cfg.QRSpendLimit)
	cfg.Sync.MaxRetries = getEnvAsInt("FESTPAY_SYNC_MAX_RETRIES", cfg.Sync.MaxRetries)
	cfg.Sync.RetryDelay = getEnvAsDuration("FESTPAY_SYNC_RETRY_DELAY", cfg.Sync.RetryDelay)
	cfg.Sync.SubmitTimeout = getEnvAsDuration("FESTPAY_SYNC_SUBMIT_TIMEOUT", cfg.Sync.SubmitTimeout)
	cfg.Sync.MaxAge = getEnvAsDuration("FESTPAY_SYNC_MAX_AGE", cfg.Sync.MaxAge)
	cfg.Sync.ConcurrentWallets = getEnvAsInt("FESTPAY_SYNC_CONCURRENT_WALLETS", cfg.Sync.ConcurrentWallets)
	cfg.Sync.PollInterval = getEnvAsDuration("FESTPAY_SYNC_POLL_INTERVAL", cfg.Sync.PollInterval)
	cfg.Probe.Interval = getEnvAsDuration("FESTPAY_PROBE_INTERVAL", cfg.Probe.Interval)
	cfg.Probe.Timeout = getEnvAsDuration("FESTPAY_PROBE_TIMEOUT", cfg.Probe.Timeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures the device configuration is usable
func (c *Device) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path is required")
	}

	if c.LedgerURL == "" {
		return fmt.Errorf("ledger_url is required")
	}

	switch c.SecretSource {
	case "server", "local":
	default:
		return fmt.Errorf("secret_source must be server or local, got %q", c.SecretSource)
	}

	if c.SecretSource == "local" && c.IsProduction() {
		return fmt.Errorf("secret_source local is not allowed in production")
	}

	switch c.SigningPolicy {
	case "refuse", "provisional":
	default:
		return fmt.Errorf("signing_policy must be refuse or provisional, got %q", c.SigningPolicy)
	}

	switch c.LinkType {
	case "wifi", "ethernet", "cellular":
	default:
		return fmt.Errorf("link_type must be wifi, ethernet or cellular, got %q", c.LinkType)
	}

	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive")
	}

	return nil
}

// IsProduction returns true if running in production mode
func (c *Device) IsProduction() bool {
	return c.Env == EnvProduction
}
