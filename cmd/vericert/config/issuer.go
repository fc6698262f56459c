package config

import (
	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/fileutils"

	vericert "github.com/vericert/vericert"
)

type issuerConf struct {
	vericert.IssuerConfig `yaml:",inline"`

	// GeoIPDB is the optional path to a MaxMind country database used to
	// enrich audit entries with the actor's country.
	GeoIPDB string `yaml:"geoip_db"`
}

var defaultIssuerConf = issuerConf{
	IssuerConfig: vericert.IssuerConfig{
		CertificatePrefix: "VC",
		ValidityYears:     3,
	},
}

func (c *issuerConf) validate() error {
	if c.ID == "" {
		return errors.New("error in issuer conf: id must be specified")
	}
	if c.GeoIPDB != "" && !fileutils.FileExists(c.GeoIPDB) {
		return errors.Errorf("geoip database '%s' does not exist", c.GeoIPDB)
	}
	return nil
}
