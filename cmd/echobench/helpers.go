package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/newtron-network/echobench/pkg/harness"
)

// resolveConfig resolves the run file from: positional arg > env > settings.
func resolveConfig(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if v := os.Getenv("ECHOBENCH_CONFIG"); v != "" {
		return v, nil
	}
	if userSettings != nil && userSettings.DefaultConfig != "" {
		return userSettings.DefaultConfig, nil
	}
	return "", errors.New("no run file: pass one, set ECHOBENCH_CONFIG, or run 'echobench settings set config <path>'")
}

// resolveRedisAddr returns the Redis address override from: flag > env > settings.
func resolveRedisAddr(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if v := os.Getenv("ECHOBENCH_REDIS_ADDR"); v != "" {
		return v
	}
	if userSettings != nil {
		return userSettings.RedisAddr
	}
	return ""
}

// loadConfig parses the run file, pointing its Redis connections at addr
// when one is given.
func loadConfig(path, redisAddr string) (*harness.Config, error) {
	return harness.ParseConfig(path, func(c *harness.Config) {
		if redisAddr == "" {
			return
		}
		if c.Control.Backend == "redis" {
			c.Control.Addr = redisAddr
		}
		if c.Publish != nil {
			c.Publish.Addr = redisAddr
		}
	})
}

// tracePath places a bare trace file name in the configured trace directory.
// Paths with a directory component are used as given.
func tracePath(dest string) string {
	if filepath.IsAbs(dest) || filepath.Dir(dest) != "." {
		return dest
	}
	dir := "."
	if userSettings != nil {
		dir = userSettings.GetTraceDir()
	}
	return filepath.Join(dir, dest)
}
