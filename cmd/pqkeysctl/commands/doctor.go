package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/systmms/pqkeys/internal/config"
	"github.com/systmms/pqkeys/internal/keystore"
)

// NewDoctorCommand checks that the configured protector backend is
// reachable and reports how many keys are in each lifecycle state.
func NewDoctorCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check backend connectivity and report key counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app.Logger.Info("loading %s...", app.ConfigPath)
			def, err := config.Load(app.ConfigPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			app.Logger.Info("configuration loaded, backend=%s store=%s", def.Backend, def.Store.Type)

			engine, err := app.Core(cmd.Context())
			if err != nil {
				app.Logger.Error("core failed to initialize: %v", err)
				return err
			}

			report, err := engine.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if report.BackendHealth != nil {
				app.Logger.Error("✗ %s backend unreachable: %v", report.Backend, report.BackendHealth)
			} else {
				app.Logger.Info("✓ %s backend is reachable", report.Backend)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "STATE\tCOUNT\n")
			for _, state := range []keystore.State{keystore.Active, keystore.PendingRotation, keystore.Expired, keystore.Compromised} {
				fmt.Fprintf(w, "%s\t%d\n", state, report.KeysByState[state])
			}
			_ = w.Flush()

			if report.Status != "healthy" {
				return fmt.Errorf("backend %s is unhealthy", report.Backend)
			}
			app.Logger.Info("✓ all systems operational")
			return nil
		},
	}
	return cmd
}
