package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tether/internal/config"
	"tether/internal/signing"
)

// signingKeyPath resolves --key, falling back to agent.signing_key_path.
func signingKeyPath(ctx *commandContext, flagValue string) (string, error) {
	if value := strings.TrimSpace(flagValue); value != "" {
		return config.ExpandPath(value)
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.Agent.SigningKeyPath == "" {
		return "", errors.New("no signing key: pass --key or set agent.signing_key_path")
	}
	return cfg.Agent.SigningKeyPath, nil
}

func newKeygenCommand(ctx *commandContext) *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:         "keygen",
		Short:       "Generate a binary signing key",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := signingKeyPath(ctx, keyPath)
			if err != nil {
				return err
			}
			pub, err := signing.GenerateKey(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote signing key to %s\n", path)
			fmt.Fprintf(out, "Signer: %s\n", signing.Signer{PublicKey: pub}.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "Destination for the new key (defaults to agent.signing_key_path)")
	return cmd
}

func newSignCommand(ctx *commandContext) *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:         "sign <binary>...",
		Short:       "Sign binaries so the agent accepts them as the same signer",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := signingKeyPath(ctx, keyPath)
			if err != nil {
				return err
			}
			key, err := signing.LoadKey(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, binary := range args {
				sigPath, err := signing.SignFile(key, binary)
				if err != nil {
					return fmt.Errorf("sign %s: %w", binary, err)
				}
				fmt.Fprintf(out, "Signed %s -> %s\n", binary, sigPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "Signing key (defaults to agent.signing_key_path)")
	return cmd
}

func newIdentityCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "identity <binary>...",
		Short:       "Show the verified signer of binaries",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed error
			for _, binary := range args {
				signer, err := signing.Identity(binary)
				switch {
				case errors.Is(err, signing.ErrUnsigned):
					fmt.Fprintf(out, "%s: unsigned\n", binary)
				case err != nil:
					fmt.Fprintf(out, "%s: invalid (%v)\n", binary, err)
					failed = errors.Join(failed, fmt.Errorf("%s: %w", binary, err))
				default:
					fmt.Fprintf(out, "%s: %s\n", binary, signer.Fingerprint())
				}
			}
			return failed
		},
	}
}
