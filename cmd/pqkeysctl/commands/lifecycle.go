package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRotateCommand generates a successor for an active key and marks the
// predecessor pending-rotation.
func NewRotateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Rotate a key, generating a successor and grace-expiring the predecessor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}
			successor, err := engine.Rotate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.Logger.Info("rotated %s -> successor %s", args[0], successor.KeyID)
			fmt.Println(successor.KeyID)
			return nil
		},
	}
	return cmd
}

// NewRevokeCommand immediately marks a key Compromised.
func NewRevokeCommand(app *App) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key immediately, marking it compromised",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}
			if err := engine.Revoke(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			app.Logger.Info("revoked %s: %s", args[0], reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why this key is being revoked (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// NewSweepCommand finalizes every PendingRotation key whose grace period
// has elapsed, the finalize half of what the background scheduler does on
// a timer; it does not rotate Active keys that are past their expiry.
func NewSweepCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Finalize expired keys now instead of waiting for the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}
			n, err := engine.FinalizeExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("finalized %d key(s)\n", n)
			return nil
		},
	}
	return cmd
}
