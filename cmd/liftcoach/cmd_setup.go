package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/liftcoach/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Walk through the settings needed to start coaching",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		in := bufio.NewScanner(os.Stdin)

		fmt.Println("liftcoach setup. Press Enter to keep the value in brackets.")
		fmt.Println()

		for {
			cfg.LLM.Provider = ask(in, "Model provider (openai, anthropic)", cfg.LLM.Provider)
			if cfg.LLM.Provider == "openai" || cfg.LLM.Provider == "anthropic" {
				break
			}
			fmt.Println("  unknown provider")
		}
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.BaseURL = ask(in, "API base URL", cfg.LLM.BaseURL)
		}
		cfg.LLM.APIKey = ask(in, "API key", cfg.LLM.APIKey)
		cfg.LLM.Model = ask(in, "Model", cfg.LLM.Model)
		cfg.LLM.MaxTokens = askInt(in, "Max reply tokens", cfg.LLM.MaxTokens)

		cfg.Database.Path = ask(in, "Training log (sqlite file)", cfg.DatabasePath())
		cfg.Telegram.Token = ask(in, "Telegram bot token (blank to skip)", cfg.Telegram.Token)

		cfg.HTTP.Addr = ask(in, "HTTP API address (blank disables)", cfg.HTTP.Addr)
		if cfg.HTTP.Addr != "" {
			cfg.HTTP.Token = ask(in, "Static bearer token (blank for none)", cfg.HTTP.Token)
			if cfg.HTTP.JWTSecret == "" && strings.EqualFold(ask(in, "Generate a secret for signed user tokens? (y/n)", "n"), "y") {
				secret, err := randomSecret()
				if err != nil {
					return err
				}
				cfg.HTTP.JWTSecret = secret
				fmt.Println("  issue tokens with: liftcoach token issue <user-id>")
			}
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println()
		fmt.Println("Saved", cfgPath)
		fmt.Println("Start the coach with: liftcoach serve")
		return nil
	},
}

// ask prints label with its default and returns the trimmed answer, or the
// default when the answer is blank.
func ask(in *bufio.Scanner, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	if in.Scan() {
		if answer := strings.TrimSpace(in.Text()); answer != "" {
			return answer
		}
	}
	return def
}

func askInt(in *bufio.Scanner, label string, def int) int {
	for {
		answer := ask(in, label, strconv.Itoa(def))
		n, err := strconv.Atoi(answer)
		if err == nil && n > 0 {
			return n
		}
		fmt.Println("  expected a positive number")
		if in.Err() != nil || answer == strconv.Itoa(def) {
			return def
		}
	}
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
