package config

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/zachmann/go-utils/fileutils"
	"gopkg.in/yaml.v3"

	vericert "github.com/vericert/vericert"
)

// configValidator is implemented by per-concern config sections that can
// check and default themselves after unmarshalling.
type configValidator interface {
	validate() error
}

// Config holds the complete server configuration.
type Config struct {
	Server    vericert.ServerConf `yaml:"server"`
	Logging   loggingConf         `yaml:"logging"`
	Storage   storageConf         `yaml:"storage"`
	Signing   signingConf         `yaml:"signing"`
	Caching   cachingConf         `yaml:"caching"`
	Issuer    issuerConf          `yaml:"issuer"`
	Retention retentionConf       `yaml:"retention"`
	API       apiConf             `yaml:"api"`
}

var conf *Config

// Get returns the loaded Config.
func Get() *Config {
	return conf
}

var possibleConfigLocations = []string{
	"config.yaml",
	"/etc/vericert/config.yaml",
}

// Load loads the config from the passed file; if the file is empty, the
// default locations are tried in order.
func Load(file string) {
	conf = &Config{
		Server:    vericert.ServerConf{Port: 8765},
		Storage:   defaultStorageConf,
		Signing:   defaultSigningConf,
		Issuer:    defaultIssuerConf,
		Retention: defaultRetentionConf,
		API:       defaultAPIConf,
	}
	content := mustReadConfigFile(file)
	if err := yaml.Unmarshal(content, conf); err != nil {
		log.WithError(err).Fatal("could not parse config file")
	}
	for _, section := range []configValidator{
		&conf.Logging,
		&conf.Storage,
		&conf.Signing,
		&conf.Caching,
		&conf.Issuer,
		&conf.Retention,
	} {
		if err := section.validate(); err != nil {
			log.WithError(err).Fatal("invalid configuration")
		}
	}
}

func mustReadConfigFile(file string) []byte {
	locations := possibleConfigLocations
	if file != "" {
		locations = []string{file}
	}
	for _, location := range locations {
		if !fileutils.FileExists(location) {
			continue
		}
		content, err := os.ReadFile(location)
		if err != nil {
			log.WithError(err).Fatal("could not read config file")
		}
		return content
	}
	log.WithError(errors.Errorf("no config file found at %v", locations)).Fatal()
	return nil
}
