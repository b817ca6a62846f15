package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/pqkeys/cmd/pqkeysctl/commands"
	"github.com/systmms/pqkeys/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	app := &commands.App{}

	rootCmd := &cobra.Command{
		Use:   "pqkeysctl",
		Short: "Post-quantum key lifecycle and cryptographic operations",
		Long: `pqkeysctl generates, rotates, revokes and uses post-quantum key
material (Kyber-1024 for encapsulation, Dilithium-5 for signatures) backed
by a pluggable secret-protection backend (local Argon2id, GCP KMS, or an
Akeyless HSM).`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.Logger = logging.New(debug, noColor)
			app.ConfigPath = configFile
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "pqkeys.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewGenerateCommand(app),
		commands.NewEncryptCommand(app),
		commands.NewDecryptCommand(app),
		commands.NewSignCommand(app),
		commands.NewVerifyCommand(app),
		commands.NewRotateCommand(app),
		commands.NewRevokeCommand(app),
		commands.NewSweepCommand(app),
		commands.NewDoctorCommand(app),
	)

	return rootCmd.Execute()
}
