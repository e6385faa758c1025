package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/startup-chat/client/internal/model/chat"
	"github.com/zhouzirui/startup-chat/client/internal/service/conversation"
)

func newSendCmd(a *app) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message in the current conversation",
		Long: `Sends a message and prints the assistant's reply. Without a current
conversation a new one is started. Use --new to start a new one regardless.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fresh {
				a.ctrl.NewConversation()
			}
			if err := a.ctrl.SendMessage(cmd.Context(), strings.Join(args, " ")); err != nil {
				return err
			}

			snap := a.ctrl.Snapshot()
			out := cmd.OutOrStdout()
			if reply, ok := lastIncoming(snap.Messages); ok {
				fmt.Fprintln(out, reply.Text)
			}
			if snap.CurrentSessionID != "" {
				fmt.Fprintf(out, "\n[session %s]\n", snap.CurrentSessionID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "new", false, "Start a new conversation before sending")
	return cmd
}

func newNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation on the next send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.ctrl.NewConversation()
			// each invocation is a fresh process, so the reset has to reach
			// the stored pointer to be seen by the next command
			if err := a.store.ClearCurrent(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear current conversation: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "started a new conversation")
			return nil
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversations",
		Long: `Manage stored conversations.

Available subcommands:
  list   - Show stored conversations, newest first
  select - Make a conversation current
  delete - Remove a conversation`,
	}

	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show stored conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := a.ctrl.Snapshot()
			if len(snap.ChatSessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
				return nil
			}
			printSessions(cmd, snap)
			return nil
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "select <id>",
		Short: "Make a conversation current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.ctrl.SelectChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			snap := a.ctrl.Snapshot()
			out := cmd.OutOrStdout()
			for _, msg := range snap.Messages {
				speaker := "assistant"
				if msg.IsOutgoing() {
					speaker = "you"
				}
				fmt.Fprintf(out, "%-9s %s\n", speaker+":", msg.Text)
			}
			if len(snap.Messages) == 0 {
				fmt.Fprintf(out, "conversation %s has no messages\n", snap.CurrentSessionID)
			}
			return nil
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return conversation.ErrSessionIDEmpty
			}
			a.ctrl.DeleteChat(cmd.Context(), id)
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	})

	return sessions
}

func newTranscribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe an audio clip for the current conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open audio: %w", err)
			}
			defer f.Close()

			transcript, err := a.ctrl.Transcribe(cmd.Context(), f, f.Name())
			if err != nil {
				return fmt.Errorf("%s: %w", conversation.DefaultTexts().For(conversation.Classify(err)), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), transcript)
			return nil
		},
	}
}

func printSessions(cmd *cobra.Command, snap conversation.Snapshot) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tTITLE\tLAST MESSAGE\tUPDATED")
	for _, s := range snap.ChatSessions {
		marker := ""
		if s.ID == snap.CurrentSessionID {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			marker, s.ID, s.Title, s.LastMessagePreview, s.UpdatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func lastIncoming(messages []chat.Message) (chat.Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if !messages[i].IsOutgoing() {
			return messages[i], true
		}
	}
	return chat.Message{}, false
}
