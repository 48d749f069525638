package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/liftcoach/internal/state"
	"github.com/user/liftcoach/internal/types"
)

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd, conversationShowCmd, conversationClearCmd)
}

func conversationStore() *state.ConversationStore {
	cfg := loadConfig()
	return state.NewConversationStore(cfg.DataDir)
}

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Inspect and clear stored conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := conversationStore()
		ctx := context.Background()
		list, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKEY\tOWNER\tUPDATED")
		for _, c := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				c.ID,
				c.Key,
				c.Owner,
				c.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var conversationShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a conversation's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conv, err := conversationStore().Get(context.Background(), types.ConversationID(args[0]))
		if err != nil {
			return err
		}
		fmt.Printf("Conversation %s (%s)\n\n", conv.ID, conv.Key)
		for _, m := range conv.Messages {
			fmt.Printf("[%s] %s", m.CreatedAt.Format("15:04:05"), m.Role)
			if m.ToolCallID != "" {
				fmt.Printf(" (%s)", m.ToolCallID)
			}
			fmt.Printf(" %d tokens\n", m.TokenCount)
			if m.Role == types.RoleSystem {
				fmt.Println("  (system prompt omitted)")
			} else if m.Content != "" {
				fmt.Println("  " + strings.ReplaceAll(m.Content, "\n", "\n  "))
			}
			for _, tc := range m.ToolCalls {
				fmt.Printf("  -> %s %s %s\n", tc.ID, tc.Name, tc.Arguments)
			}
		}
		return nil
	},
}

var conversationClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete a conversation or all conversations",
	Long:  "Deletes chat history only. The training log is not touched.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := conversationStore()
		ctx := context.Background()

		if args[0] == "all" {
			list, err := store.List(ctx)
			if err != nil {
				return fmt.Errorf("list conversations: %w", err)
			}
			for _, c := range list {
				if err := store.Delete(ctx, c.ID); err != nil {
					return fmt.Errorf("delete conversation %s: %w", c.ID, err)
				}
			}
			fmt.Printf("%d conversations cleared.\n", len(list))
			return nil
		}

		if err := store.Delete(ctx, types.ConversationID(args[0])); err != nil {
			if errors.Is(err, state.ErrConversationNotFound) {
				return fmt.Errorf("conversation not found: %s", args[0])
			}
			return err
		}
		fmt.Fprintf(os.Stdout, "Conversation %s cleared.\n", args[0])
		return nil
	},
}
