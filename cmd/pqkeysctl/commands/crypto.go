package commands

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/pqkeys/pkg/core"
	"github.com/systmms/pqkeys/pkg/primitive"
)

// NewEncryptCommand hybrid-encrypts stdin, printing the base64-encoded
// envelope to stdout. It accepts either a Core-resident --key (the Core
// resolves and reports usage against that key_id) or a raw --public-key
// plus --algorithm for a stateless encrypt that never touches the Core or
// its store.
func NewEncryptCommand(app *App) *cobra.Command {
	var (
		keyID     string
		publicKey string
		algorithm string
	)
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin against a Kyber key, writing base64 ciphertext to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			plaintext, err := readAll(cmd)
			if err != nil {
				return err
			}

			if publicKey != "" {
				pub, err := base64.StdEncoding.DecodeString(publicKey)
				if err != nil {
					return fmt.Errorf("decode --public-key: %w", err)
				}
				blob, err := core.EncryptToPublicKey(primitive.Name(algorithm), pub, plaintext)
				if err != nil {
					return err
				}
				fmt.Println(base64.StdEncoding.EncodeToString(blob))
				return nil
			}

			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}
			blob, err := engine.Encrypt(cmd.Context(), keyID, plaintext)
			if err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(blob))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "key id to encrypt against")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64-encoded recipient public key, for a stateless encrypt that bypasses the Core")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(primitive.Kyber1024), "KEM algorithm, used with --public-key")
	cmd.MarkFlagsOneRequired("key", "public-key")
	cmd.MarkFlagsMutuallyExclusive("key", "public-key")
	return cmd
}

// NewDecryptCommand reverses NewEncryptCommand: it reads a base64 envelope
// from stdin and writes the recovered plaintext to stdout.
func NewDecryptCommand(app *App) *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a base64 envelope from stdin, writing plaintext to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := readAll(cmd)
			if err != nil {
				return err
			}
			blob, err := base64.StdEncoding.DecodeString(string(encoded))
			if err != nil {
				return fmt.Errorf("decode base64 input: %w", err)
			}
			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}
			plaintext, err := engine.Decrypt(cmd.Context(), keyID, blob)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(plaintext)
			return err
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "key id to decrypt with (required)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// NewSignCommand signs stdin with a Dilithium key, printing a base64
// signature to stdout.
func NewSignCommand(app *App) *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign stdin with a Dilithium key, writing a base64 signature to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := readAll(cmd)
			if err != nil {
				return err
			}
			engine, err := app.Core(cmd.Context())
			if err != nil {
				return err
			}
			sig, err := engine.Sign(cmd.Context(), keyID, message)
			if err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(sig))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "key id to sign with (required)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

// NewVerifyCommand verifies a base64 signature (--signature) over stdin.
// As with NewEncryptCommand, it accepts either a Core-resident --key or a
// raw --public-key plus --algorithm for a stateless verify.
func NewVerifyCommand(app *App) *cobra.Command {
	var (
		keyID     string
		publicKey string
		algorithm string
		signature string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a base64 signature over stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := readAll(cmd)
			if err != nil {
				return err
			}
			sig, err := base64.StdEncoding.DecodeString(signature)
			if err != nil {
				return fmt.Errorf("decode --signature: %w", err)
			}

			var valid bool
			if publicKey != "" {
				pub, err := base64.StdEncoding.DecodeString(publicKey)
				if err != nil {
					return fmt.Errorf("decode --public-key: %w", err)
				}
				valid, err = core.VerifyWithPublicKey(primitive.Name(algorithm), pub, message, sig)
				if err != nil {
					return err
				}
			} else {
				engine, err := app.Core(cmd.Context())
				if err != nil {
					return err
				}
				valid, err = engine.Verify(cmd.Context(), keyID, message, sig)
				if err != nil {
					return err
				}
			}

			if !valid {
				fmt.Println("invalid")
				return fmt.Errorf("signature does not verify")
			}
			fmt.Println("valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&keyID, "key", "", "key id to verify against")
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64-encoded signer public key, for a stateless verify that bypasses the Core")
	cmd.Flags().StringVar(&algorithm, "algorithm", string(primitive.Dilithium5), "signature algorithm, used with --public-key")
	cmd.Flags().StringVar(&signature, "signature", "", "base64-encoded signature (required)")
	cmd.MarkFlagsOneRequired("key", "public-key")
	cmd.MarkFlagsMutuallyExclusive("key", "public-key")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func readAll(cmd *cobra.Command) ([]byte, error) {
	data, err := readAllFrom(cmd.InOrStdin())
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}
