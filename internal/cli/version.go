package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/skillcheck/internal/auth"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Long:        `Display the skillcheckctl version and the commit it was built from.`,
		Annotations: offline,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "skillcheckctl %s (commit %s)\n", Version, GitCommit)
		},
	}
}

func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [api-key]",
		Short: "Hash an operator API key for SKILLCHECK_API_KEY_HASH",
		Long: `Print the argon2id hash of an operator API key. Set the output as
SKILLCHECK_API_KEY_HASH on the server to enable authentication.

The key is read from stdin when no argument is given, which keeps it out
of shell history.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: offline,
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read api key: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)

			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func newGenKeysCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "gen-keys",
		Short: "Generate a persistent Ed25519 key pair for dashboard tokens",
		Long: `Write jwt_private.pem and jwt_public.pem for SKILLCHECK_JWT_PRIVATE_KEY and
SKILLCHECK_JWT_PUBLIC_KEY. Without them the server signs tokens with an
ephemeral key, so every restart logs operators out.

Existing key files are never overwritten.`,
		Args:        cobra.NoArgs,
		Annotations: offline,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath, pubPath, err := auth.WriteKeyPair(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "SKILLCHECK_JWT_PRIVATE_KEY=%s\n", privPath)
			_, _ = fmt.Fprintf(out, "SKILLCHECK_JWT_PUBLIC_KEY=%s\n", pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "directory to write the key files into")
	return cmd
}
