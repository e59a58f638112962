package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pokulabs/poku/internal/api"
	"github.com/pokulabs/poku/internal/tui/client"
	"github.com/spf13/cobra"
)

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				resp, err := c.GetStatus(ctx)
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(resp)
					return nil
				}
				printStatus(os.Stdout, resp)
				return nil
			})
		},
	}
}

func chatsCmd(g *globals) *cobra.Command {
	var (
		number string
		pages  int
		size   int
	)
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats of the active number, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				resp, err := c.LoadChats(ctx, &api.LoadChatsRequest{ActiveNumber: number})
				if err != nil {
					return err
				}
				all := resp.Chats
				for i := 0; i < pages && resp.HasMore; i++ {
					resp, err = c.LoadMoreChats(ctx, &api.LoadMoreChatsRequest{
						SessionToken: resp.SessionToken,
						PageSize:     size,
					})
					if err != nil {
						return err
					}
					all = append(all, resp.Chats...)
				}
				if g.json {
					outputJSON(api.ChatsResponse{
						SessionToken: resp.SessionToken,
						ActiveNumber: resp.ActiveNumber,
						Chats:        all,
						HasMore:      resp.HasMore,
					})
					return nil
				}
				printChats(os.Stdout, all, resp.HasMore)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "active number (defaults to the daemon's)")
	cmd.Flags().IntVar(&pages, "more", 0, "additional pages to load")
	cmd.Flags().IntVar(&size, "page-size", 0, "chats per additional page")
	return cmd
}

func threadCmd(g *globals) *cobra.Command {
	var (
		number string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "thread <counterparty>",
		Short: "Show messages exchanged with a counterparty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				resp, err := c.ListThread(ctx, &api.ListThreadRequest{
					ActiveNumber: number,
					Counterparty: args[0],
					Limit:        limit,
				})
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(resp)
					return nil
				}
				printThread(os.Stdout, args[0], resp.Messages)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "active number (defaults to the daemon's)")
	cmd.Flags().IntVar(&limit, "limit", 30, "messages to show")
	return cmd
}

func readCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "read <chat-id> <msg-id>",
		Short: "Record the last message seen in a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				_, err := c.MarkRead(ctx, &api.MarkReadRequest{ChatID: args[0], MsgID: args[1]})
				return err
			})
		},
	}
}

func flagCmd(g *globals) *cobra.Command {
	var (
		reason string
		unflag bool
	)
	cmd := &cobra.Command{
		Use:   "flag <chat-id>",
		Short: "Flag a chat for human attention",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				_, err := c.FlagChat(ctx, &api.FlagChatRequest{ChatID: args[0], Flagged: !unflag, Reason: reason})
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the chat needs attention")
	cmd.Flags().BoolVar(&unflag, "clear", false, "remove the flag")
	return cmd
}

func claimCmd(g *globals) *cobra.Command {
	var release bool
	cmd := &cobra.Command{
		Use:   "claim <chat-id> [operator]",
		Short: "Claim a chat for an operator",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			by := os.Getenv("USER")
			if len(args) == 2 {
				by = args[1]
			}
			if release {
				by = ""
			} else if by == "" {
				return errors.New("operator name is required")
			}
			return g.run(func(ctx context.Context, c *client.Client) error {
				_, err := c.ClaimChat(ctx, &api.ClaimChatRequest{ChatID: args[0], ClaimedBy: by})
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&release, "release", false, "release the claim")
	return cmd
}

func sendCmd(g *globals) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "send <to> <text>",
		Short: "Queue a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				resp, err := c.SendText(ctx, &api.SendTextRequest{From: from, To: args[0], Text: args[1]})
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(resp)
					return nil
				}
				fmt.Printf("queued %s\n", resp.ClientMsgID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sending number (defaults to the daemon's)")
	return cmd
}

func searchCmd(g *globals) *cobra.Command {
	var (
		number string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over mirrored messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(func(ctx context.Context, c *client.Client) error {
				resp, err := c.SearchMessages(ctx, &api.SearchMessagesRequest{Query: args[0], Number: number, Limit: limit})
				if err != nil {
					return err
				}
				if g.json {
					outputJSON(resp)
					return nil
				}
				printSearch(os.Stdout, resp.Results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "restrict to messages of this number")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func watchCmd(g *globals) *cobra.Command {
	var (
		number    string
		namespace string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := g.connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			err = c.WatchEvents(ctx, &api.WatchEventsRequest{ActiveNumber: number, Namespace: namespace}, func(env *api.EventEnvelope) error {
				if g.json {
					outputJSON(env)
					return nil
				}
				ts := time.UnixMilli(env.OccurredAtUnixMs).Format(time.TimeOnly)
				fmt.Printf("%s %-22s %s\n", ts, env.Kind, env.Payload)
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "only events involving this number")
	cmd.Flags().StringVar(&namespace, "namespace", "", "event kind prefix, e.g. message.")
	return cmd
}
