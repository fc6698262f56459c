package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/duration"
)

// cachingConf configures the status list cache. With an empty redis_addr an
// in-process cache is used; disabled turns caching off entirely.
type cachingConf struct {
	RedisAddr   string                  `yaml:"redis_addr"`
	Username    string                  `yaml:"username"`
	Password    string                  `yaml:"password"`
	RedisDB     int                     `yaml:"redis_db"`
	Disabled    bool                    `yaml:"disabled"`
	MaxLifetime duration.DurationOption `yaml:"max_lifetime"`
}

func (c *cachingConf) validate() error {
	lifetime := c.MaxLifetime.Duration()
	if lifetime < 0 {
		return errors.New("caching.max_lifetime must not be negative")
	}
	if lifetime == 0 {
		c.MaxLifetime = duration.DurationOption(5 * time.Minute)
	}
	return nil
}
