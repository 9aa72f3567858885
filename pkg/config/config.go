package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the node configuration, sourced from the environment (and an
// optional .env file).
type Config struct {
	// NodeID is this node's identity in the network, usually its hex pubkey.
	NodeID string

	// HTTPListen and MQListen are the two listening channels peers probe.
	HTTPListen string
	MQListen   string

	// AdvertiseHTTP and AdvertiseMQ are the host:port addresses published to
	// the registry for peers to probe. Default to the listen addresses.
	AdvertiseHTTP string
	AdvertiseMQ   string

	// EtcdEndpoints locate the peer registry.
	EtcdEndpoints []string

	// AuthorityURL is the JSON-RPC endpoint of the registry daemon that acts
	// on reachability reports.
	AuthorityURL string

	// PingInterval is the cadence of outbound peer probes; together with
	// StalenessMultiple it bounds the tolerated silence on our own channels.
	PingInterval      time.Duration
	ProbeTimeout      time.Duration
	GracePeriod       time.Duration
	StalenessMultiple int

	// ReportInterval drives the reporter loop, RetestInterval the targeted
	// re-probing of tracked peers.
	ReportInterval time.Duration
	RetestInterval time.Duration

	// Dev switches logging to the development encoder.
	Dev bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present.
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		NodeID:            os.Getenv("NODE_ID"),
		HTTPListen:        envOr("HTTP_LISTEN", ":8080"),
		MQListen:          envOr("MQ_LISTEN", ":8081"),
		AdvertiseHTTP:     os.Getenv("ADVERTISE_HTTP"),
		AdvertiseMQ:       os.Getenv("ADVERTISE_MQ"),
		EtcdEndpoints:     splitList(envOr("ETCD_ENDPOINTS", "http://127.0.0.1:2379")),
		AuthorityURL:      os.Getenv("AUTHORITY_URL"),
		PingInterval:      10 * time.Second,
		ProbeTimeout:      5 * time.Second,
		GracePeriod:       120 * time.Minute,
		StalenessMultiple: 18,
		ReportInterval:    time.Minute,
		RetestInterval:    30 * time.Second,
		Dev:               os.Getenv("DEV") == "1",
	}

	var err error
	if cfg.PingInterval, err = envDuration("PING_INTERVAL", cfg.PingInterval); err != nil {
		return Config{}, err
	}
	if cfg.ProbeTimeout, err = envDuration("PROBE_TIMEOUT", cfg.ProbeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.GracePeriod, err = envDuration("GRACE_PERIOD", cfg.GracePeriod); err != nil {
		return Config{}, err
	}
	if cfg.ReportInterval, err = envDuration("REPORT_INTERVAL", cfg.ReportInterval); err != nil {
		return Config{}, err
	}
	if cfg.RetestInterval, err = envDuration("RETEST_INTERVAL", cfg.RetestInterval); err != nil {
		return Config{}, err
	}
	if cfg.StalenessMultiple, err = envInt("STALENESS_MULTIPLE", cfg.StalenessMultiple); err != nil {
		return Config{}, err
	}

	if cfg.AdvertiseHTTP == "" {
		cfg.AdvertiseHTTP = cfg.HTTPListen
	}
	if cfg.AdvertiseMQ == "" {
		cfg.AdvertiseMQ = cfg.MQListen
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("NODE_ID must be set")
	}
	if len(c.EtcdEndpoints) == 0 {
		return fmt.Errorf("ETCD_ENDPOINTS must not be empty")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %s", c.PingInterval)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %s", c.ProbeTimeout)
	}
	if c.ProbeTimeout >= c.PingInterval {
		return fmt.Errorf("probe timeout %s must be shorter than ping interval %s",
			c.ProbeTimeout, c.PingInterval)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive, got %s", c.GracePeriod)
	}
	if c.StalenessMultiple <= 0 {
		return fmt.Errorf("staleness multiple must be positive, got %d", c.StalenessMultiple)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
