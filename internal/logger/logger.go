// Package logger initializes the process-wide logrus logger from
// configuration.
package logger

import (
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Conf configures the internal logger.
type Conf struct {
	// Dir is the directory log files are written to; empty disables file
	// logging.
	Dir string `yaml:"dir"`
	// StdErr duplicates log output to stderr.
	StdErr bool `yaml:"stderr"`
	// Level sets the verbosity, e.g. DEBUG, INFO, WARN, ERROR.
	Level string `yaml:"level"`
}

// Init configures logrus according to the passed Conf. Unknown levels fall
// back to INFO.
func Init(conf Conf) {
	level, err := log.ParseLevel(conf.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(
		&log.TextFormatter{
			FullTimestamp: true,
		},
	)

	var writers []io.Writer
	if conf.Dir != "" {
		file, err := os.OpenFile(
			filepath.Join(conf.Dir, "vericert.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644,
		)
		if err != nil {
			log.WithError(err).Error("could not open log file, logging to stderr only")
		} else {
			writers = append(writers, file)
		}
	}
	if conf.StdErr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	log.SetOutput(io.MultiWriter(writers...))
}
