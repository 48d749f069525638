package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/user/liftcoach/internal/types"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("user", os.Getenv("USER"), "lifter id; empty chats anonymously")
	chatCmd.Flags().String("key", "", "conversation key (default cli:<user>)")
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the coach from the terminal",
	Long:  "With a message argument, sends it and prints the reply. Without one, reads lines from stdin until EOF.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		user, _ := cmd.Flags().GetString("user")
		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			name := user
			if name == "" {
				name = "anonymous"
			}
			key = string(types.NewConversationKey("cli", name))
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := buildApp(ctx, cfg, prometheus.NewRegistry())
		if err != nil {
			return err
		}
		defer a.Close()
		a.gateway.Start(ctx)
		defer a.gateway.Stop()

		ask := func(text string) error {
			event := &types.InboundEvent{
				Source:          "cli",
				ConversationKey: types.ConversationKey(key),
				Text:            text,
			}
			if user != "" {
				event.Principal = &types.Principal{ID: "cli:" + user, Name: user}
			}
			reply, err := a.gateway.Ask(ctx, event)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, reply)
			return nil
		}

		if len(args) == 1 {
			return ask(args[0])
		}

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Fprint(os.Stdout, "> ")
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text != "" {
				if err := ask(text); err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
			}
			fmt.Fprint(os.Stdout, "> ")
		}
		fmt.Fprintln(os.Stdout)
		return scanner.Err()
	},
}
