package config

import (
	"github.com/pkg/errors"
)

type signingConf struct {
	// KeyFile is the path of the Ed25519 signing key in JWK format.
	KeyFile string `yaml:"key_file"`
	// KeyVersion is published with every signature so verifiers can track
	// rotations.
	KeyVersion int `yaml:"key_version"`
	// AutoGenerateKeys generates a fresh key at KeyFile when none exists.
	AutoGenerateKeys bool `yaml:"auto_generate_keys"`
}

var defaultSigningConf = signingConf{
	KeyVersion:       1,
	AutoGenerateKeys: true,
}

func (c *signingConf) validate() error {
	if c.KeyFile == "" {
		return errors.New("error in signing conf: key_file must be specified")
	}
	if c.KeyVersion <= 0 {
		c.KeyVersion = 1
	}
	return nil
}
