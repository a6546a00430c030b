package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	chatsync "github.com/courtly-app/chatsync"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	conversationsJSON bool

	messagesLimit int
	messagesJSON  bool

	searchJSON bool
)

func init() {
	rootCmd.AddCommand(conversationsCmd)
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(messagesCmd)
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 20, "number of messages to show")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(sendCmd)

	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output raw JSON")

	rootCmd.AddCommand(watchCmd)
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List the viewer's conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		items, err := store.ListConversations(ctx, time.Time{})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if conversationsJSON {
			data, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for _, c := range items {
			title := c.Title
			if title == "" {
				title = "(untitled)"
			}
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf("  [%d unread]", c.UnreadCount)
			}
			preview := ""
			if c.LastMessage != nil {
				preview = "  " + truncate(c.LastMessage.Body, 48)
			}
			fmt.Printf("%-26s  %-8s %s%s%s\n", c.ID, c.Kind, title, unread, preview)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show recent messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		page, err := store.ListMessages(ctx, args[0], chatsync.MessageQuery{})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		items := page.Items
		if len(items) > messagesLimit {
			items = items[len(items)-messagesLimit:]
		}

		if messagesJSON {
			data, err := json.MarshalIndent(items, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for _, m := range items {
			printMessage(&m)
		}
		return nil
	},
}

func printMessage(m *chatsync.Message) {
	sender := "?"
	if m.Sender != nil {
		sender = m.Sender.Username
		if sender == "" {
			sender = m.Sender.ID
		}
	}
	body := m.Body
	if m.DeletedAt != nil {
		body = "(deleted)"
	}
	fmt.Printf("%s  %-16s %s\n", m.CreatedAt.Local().Format("15:04:05"), sender, body)
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <body>",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()
		body := strings.Join(args[1:], " ")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := store.CreateMessage(ctx, args[0], body, nil, uuid.NewString())
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <conversation-id> <query>",
	Short: "Search messages in a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := getStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		hits, err := store.Search(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}

		if searchJSON {
			data, err := json.MarshalIndent(hits, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		for _, h := range hits {
			fmt.Printf("%s  %s  %s\n", h.MessageID, h.CreatedAt.Local().Format("2006-01-02 15:04"), h.Snippet)
		}
		return nil
	},
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation live",
	Long:  "Open a realtime session and print messages, typing indicators, and notifications as they arrive. Interrupt to exit.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		opts := getEngineOptions()

		seen := make(map[string]bool)
		opts.OnChange = func(snap chatsync.Snapshot) {
			for i := range snap.Messages {
				m := &snap.Messages[i].Message
				if seen[m.ID] || snap.Messages[i].IsPending() {
					continue
				}
				seen[m.ID] = true
				printMessage(m)
			}
		}
		opts.OnNotification = func(n chatsync.Notification) {
			fmt.Printf("-- %s: %s\n", n.SenderName, truncate(n.Body, 60))
		}
		opts.OnConnStatus = func(st chatsync.ConnStatus) {
			fmt.Printf("-- connection: %s\n", st.State)
		}

		engine, err := chatsync.New(opts)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("start failed: %w", err)
		}
		defer engine.Close()

		if err := engine.SetActiveConversation(ctx, conversationID); err != nil {
			return fmt.Errorf("load failed: %w", err)
		}

		<-ctx.Done()
		fmt.Println()
		return nil
	},
}
