package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/pqkeys/pkg/core"
	"github.com/systmms/pqkeys/pkg/primitive"
)

// NewGenerateCommand creates a new key pair of the given algorithm.
func NewGenerateCommand(app *App) *cobra.Command {
	var (
		expiresIn string
		tags      map[string]string
	)

	cmd := &cobra.Command{
		Use:   "generate <kyber1024|dilithium5>",
		Short: "Generate a new key pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			algorithm, err := parseAlgorithm(args[0])
			if err != nil {
				return err
			}

			var opts core.GenerateOptions
			opts.Tags = tags
			if expiresIn != "" {
				d, err := time.ParseDuration(expiresIn)
				if err != nil {
					return fmt.Errorf("invalid --expires-in: %w", err)
				}
				opts.ExpiresIn = d
			}

			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}

			rec, err := engine.Generate(cmd.Context(), algorithm, opts)
			if err != nil {
				return err
			}

			app.Logger.Info("generated key %s (%s, generation %d)", rec.KeyID, rec.Algorithm, rec.Generation)
			fmt.Println(rec.KeyID)
			return nil
		},
	}

	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "optional key expiry, e.g. 8760h")
	cmd.Flags().StringToStringVar(&tags, "tag", nil, "attach a tag, repeatable (--tag env=prod)")

	return cmd
}

func parseAlgorithm(s string) (primitive.Name, error) {
	switch s {
	case string(primitive.Kyber1024), "kyber1024", "kyber":
		return primitive.Kyber1024, nil
	case string(primitive.Dilithium5), "dilithium5", "dilithium":
		return primitive.Dilithium5, nil
	default:
		return "", fmt.Errorf("unknown algorithm %q, expected kyber1024 or dilithium5", s)
	}
}
