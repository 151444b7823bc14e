package cmn

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Config holds the knobs the replication/GC engines read at startup;
// everything else about the gateway (the FsEntryStore, the volume
// layout, etc.) lives outside this engine's scope.
type Config struct {
	Transfer struct {
		// Timeout bounds each context's fan-out deadline and a
		// synchronous wait_and_free call; 0 means unbounded (spec §6).
		// It is a time.Duration, so a JSON config gives it as an
		// integer count of nanoseconds, not seconds.
		Timeout time.Duration `json:"timeout"`
	} `json:"transfer"`
	Replica struct {
		ConnectTimeout time.Duration `json:"connect_timeout"`
		// RGCacheTTL bounds how long a resolved RG content URL is
		// reused before the engine asks MSClient again (spec §4, "Per-RG
		// content URL caching").
		RGCacheTTL time.Duration `json:"content_url_cache_ttl"`
	} `json:"replica"`
	Worker struct {
		// IdleTick bounds how long the worker loop's select blocks
		// with nothing pending/active, the Go analogue of the
		// libcurl-multi "suggested timeout, default 10ms" (spec §4.3).
		IdleTick time.Duration `json:"idle_tick"`
	} `json:"worker"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.Transfer.Timeout = 30 * time.Second
	c.Replica.ConnectTimeout = 5 * time.Second
	c.Replica.RGCacheTTL = 30 * time.Second
	c.Worker.IdleTick = 10 * time.Millisecond
	return c
}

func LoadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
