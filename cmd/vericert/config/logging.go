package config

import (
	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/fileutils"

	"github.com/vericert/vericert/internal/logger"
)

// loggingConf holds all logging-related configuration under the `logging`
// key.
//
// YAML example:
//
//	logging:
//	  internal:
//	    dir: /var/log/vericert
//	    stderr: true
//	    level: INFO
type loggingConf struct {
	Internal logger.Conf `yaml:"internal"`
}

func (c *loggingConf) validate() error {
	if dir := c.Internal.Dir; dir != "" && !fileutils.FileExists(dir) {
		return errors.Errorf("logging directory '%s' does not exist", dir)
	}
	return nil
}
