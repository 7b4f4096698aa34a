package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenshield/shieldd/internal/domain/auth"
)

var hashBrokerTokenCmd = &cobra.Command{
	Use:   "hash-broker-token [token]",
	Short: "Generate the SHA256 hash stored for a broker token",
	Long: `Generate the SHA256 hash of a broker token for seeding into a policy
or storage record. Broker tokens themselves are never stored; only this
hash is, so a leaked database does not leak usable tokens.

Example:
  shieldd hash-broker-token "my-broker-token"

Security note: the token will appear in shell history. Consider clearing
history after use or passing it via an environment variable:
  shieldd hash-broker-token "$BROKER_TOKEN"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(auth.HashToken(args[0]))
	},
}

func init() {
	rootCmd.AddCommand(hashBrokerTokenCmd)
}
