package native

import "fmt"

// Config tunes the engine itself, independently of any program's
// StylusConfig.
type Config struct {
	// CacheSize is the number of compiled modules kept in memory.
	CacheSize int `toml:"cache_size"`
	// MemoryLimitPages caps the linear memory of every program (64KiB pages).
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	// Debug forwards console_log hostio calls to the logger.
	Debug bool `toml:"debug"`
}

// DefaultConfig returns the engine configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		CacheSize:        256,
		MemoryLimitPages: 128, // 8MiB
	}
}

func (c Config) validate() error {
	if c.CacheSize <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.CacheSize)
	}
	if c.MemoryLimitPages == 0 || c.MemoryLimitPages > 65536 {
		return fmt.Errorf("invalid memory limit: %d pages", c.MemoryLimitPages)
	}
	return nil
}
