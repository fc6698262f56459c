package config

import (
	"github.com/pkg/errors"
	"github.com/zachmann/go-utils/duration"

	vericert "github.com/vericert/vericert"
)

type retentionConf struct {
	vericert.RetentionPolicy `yaml:",inline"`

	// SweepInterval enables the periodic retention sweep when non-zero.
	SweepInterval duration.DurationOption `yaml:"sweep_interval"`
	// SweepBatch bounds how many entries one sweep may archive.
	SweepBatch int `yaml:"sweep_batch"`
}

var defaultRetentionConf = retentionConf{
	RetentionPolicy: *vericert.DefaultRetentionPolicy(),
	SweepBatch:      1000,
}

func (c *retentionConf) validate() error {
	if c.StandardDays < 0 || c.SecurityDays < 0 || c.CertificateDays < 0 {
		return errors.New("error in retention conf: horizons must not be negative")
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 1000
	}
	return nil
}
