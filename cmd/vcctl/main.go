package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	vericert "github.com/vericert/vericert"
	"github.com/vericert/vericert/cmd/vericert/config"
	"github.com/vericert/vericert/storage/model"
)

var rootCmd = &cobra.Command{
	Use:   "vcctl",
	Short: "vcctl can help you manage your vericert instance",
	Long:  "vcctl can help you manage your vericert instance",
}

var configFile string
var backends model.Backends

func loadConfig() error {
	config.Load(configFile)
	log.Info("Loaded Config")
	c := config.Get()

	var err error
	backends, err = config.LoadStorageBackends(c.Storage)
	if err != nil {
		log.Fatal(err)
	}
	return nil
}

func loadSigner() (*vericert.Signer, error) {
	c := config.Get()
	return vericert.LoadSigner(c.Signing.KeyFile, c.Signing.KeyVersion, false)
}

var verifyLedgerCmd = &cobra.Command{
	Use:   "verify-ledger",
	Short: "Validates the audit ledger's hash chain and signatures",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		signer, err := loadSigner()
		if err != nil {
			log.WithError(err).Warn("no signing key, skipping signature validation")
			signer = nil
		}
		ledger := vericert.NewAuditLedger(backends.Audit, backends.KV, signer, nil, nil)
		report, err := ledger.ValidateIntegrity(vericert.Actor{ID: "vcctl"})
		if err != nil {
			return err
		}
		if report.ChainValid {
			fmt.Printf("ledger valid, %d entries checked\n", report.Checked)
			return nil
		}
		fmt.Printf(
			"ledger INVALID at entry %s (position %d): %s\n",
			report.FirstInvalid.EntryID, report.FirstInvalid.Position, report.FirstInvalid.Problem,
		)
		return fmt.Errorf("ledger integrity check failed")
	},
}

var sweepLimit int

var sweepRetentionCmd = &cobra.Command{
	Use:   "sweep-retention",
	Short: "Archives audit entries past their retention horizon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		c := config.Get()
		retention := vericert.NewRetentionService(
			backends.Audit, backends.KV, &c.Retention.RetentionPolicy,
		)
		removed, err := retention.Sweep(sweepLimit)
		if err != nil {
			return err
		}
		fmt.Printf("archived %d ledger entries\n", removed)
		return nil
	},
}

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generates a new Ed25519 signing key at the configured key file",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Load(configFile)
		c := config.Get()
		signer, err := vericert.LoadSigner(c.Signing.KeyFile, c.Signing.KeyVersion, true)
		if err != nil {
			return err
		}
		fmt.Printf("signing key ready at %s\n", c.Signing.KeyFile)
		fmt.Printf("public key: %s\n", signer.PublicKeyMultibase())
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "the config file to use")
	sweepRetentionCmd.Flags().IntVar(&sweepLimit, "limit", 1000, "maximum number of entries to archive")
	rootCmd.AddCommand(verifyLedgerCmd, sweepRetentionCmd, genKeyCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
