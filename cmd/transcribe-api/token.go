package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/snarg/transcribe-api/internal/auth"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const tokenPrefix = "sk_transcribe_"

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage bearer tokens",
	}
	cmd.AddCommand(newTokenGenCommand())
	cmd.AddCommand(newTokenCheckCommand())
	return cmd
}

func newTokenGenCommand() *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a random bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := generateToken()
			if err != nil {
				return err
			}
			if identity == "" {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}
			// Ready to paste into AUTH_TOKENS_FILE
			out, err := yaml.Marshal(auth.TokenFile{Tokens: []auth.TokenEntry{{Token: token, Identity: identity}}})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Emit a tokens-file entry for this identity")
	return cmd
}

func newTokenCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <tokens-file>",
		Short: "Validate a tokens file and list its identities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := auth.ReadTokenFile(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Identity, maskToken(e.Token))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d token(s) ok\n", len(entries))
			return nil
		},
	}
}

func generateToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}

// maskToken keeps the first few characters so operators can tell tokens apart.
func maskToken(t string) string {
	if len(t) <= 18 {
		return "***"
	}
	return t[:18] + "***"
}
