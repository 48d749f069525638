package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tokenName string

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenIssueCmd.Flags().StringVar(&tokenName, "name", "", "display name carried in the token")
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage signed API tokens",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <user-id>",
	Short: "Issue a JWT that signs API requests in as a user",
	Long: `Issue prints a bearer token for the HTTP API. Requests carrying it run
as principal http:<user-id> and default to conversation http:<user-id>.
Requires http.jwt_secret (or LIFTCOACH_JWT_SECRET).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		s := signer(cfg)
		if s == nil {
			return fmt.Errorf("http.jwt_secret is not set")
		}
		token, err := s.Issue(args[0], tokenName)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}
