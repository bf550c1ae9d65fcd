// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/model"
	"github.com/jeranaias/whisper/internal/storage"
	"github.com/jeranaias/whisper/internal/util"
)

// =============================================================================
// HISTORY
// =============================================================================

type historyResult struct {
	Topic      string              `json:"topic"`
	Messages   []model.ChatMessage `json:"messages"`
	TotalCount int                 `json:"totalCount"`
	Offset     int                 `json:"offset"`
	HasMore    bool                `json:"hasMore"`
}

func (a *App) historyCommand() *cobra.Command {
	var (
		limit    int
		offset   int
		all      bool
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show a topic's conversation, newest page by default",
		Args:  cobra.NoArgs,
		Example: `  whisper history --topic two-sum
  whisper history --topic two-sum --offset 10
  whisper history --topic two-sum --all --json`,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			topic := a.resolveTopic("")
			svc, err := a.service(ctx, topic)
			if err != nil {
				return err
			}
			defer svc.Close()

			res := historyResult{Topic: topic, Offset: offset}
			if all {
				res.Messages = svc.Messages()
				res.TotalCount = len(res.Messages)
				res.Offset = 0
			} else {
				if limit == 0 {
					cfg, err := a.config()
					if err != nil {
						return err
					}
					limit = cfg.History.PageSize
				}
				page, err := svc.LoadPage(ctx, limit, offset)
				if err != nil {
					if errors.Is(err, storage.ErrInvalidPage) {
						return NewValidationErrorWithExample("page", fmt.Sprintf("limit=%d offset=%d", limit, offset),
							"limit must be positive and offset not negative", "whisper history --limit 10 --offset 0")
					}
					return err
				}
				res.Messages = page.Messages
				res.TotalCount = page.TotalCount
				res.HasMore = page.HasMore(offset)
			}

			if jsonMode {
				return NewJSONResponse("history", res).Write(a.out)
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			if len(res.Messages) == 0 {
				r.Notice("No messages for %s.", topic)
				return nil
			}
			r.Messages(res.Messages)
			if res.HasMore {
				r.Notice("Showing %d of %d. Older: --offset %d", len(res.Messages), res.TotalCount, offset+len(res.Messages))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "messages per page (default history.page_size)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many newest messages")
	cmd.Flags().BoolVar(&all, "all", false, "show the whole conversation")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "output as JSON")
	return cmd
}

// =============================================================================
// CLEAR
// =============================================================================

func (a *App) clearCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a topic's conversation",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			topic := a.resolveTopic("")
			confirmed, err := RequireConfirmation(yes, "clear the conversation for "+topic, a.in, a.errOut)
			if err != nil {
				return err
			}
			if !confirmed {
				fmt.Fprintln(a.out, "Cancelled.")
				return nil
			}

			svc, err := a.service(ctx, topic)
			if err != nil {
				return err
			}
			defer svc.Close()
			if err := svc.ClearConversation(ctx); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s Cleared %s\n", RenderStatus("ok"), topic)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

// =============================================================================
// TOPICS
// =============================================================================

func (a *App) topicCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "List topics or derive one from a problem URL",
	}

	var jsonMode bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List topics with stored conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			topics, err := store.Topics(ctx)
			if err != nil {
				return err
			}
			if jsonMode {
				return NewJSONResponse("topic list", topics).Write(a.out)
			}
			if len(topics) == 0 {
				fmt.Fprintln(a.out, "No conversations yet.")
				return nil
			}
			for _, t := range topics {
				fmt.Fprintf(a.out, "%s %4d  %s  %s\n",
					util.PadRight(util.TruncateWidth(t.Topic, 28), 28),
					t.MessageCount,
					t.UpdatedAt.Local().Format("2006-01-02 15:04"),
					t.Preview)
			}
			return nil
		}),
	}
	list.Flags().BoolVar(&jsonMode, "json", false, "output as JSON")

	fromURL := &cobra.Command{
		Use:     "from-url <url>",
		Short:   "Print the topic key derived from a problem page URL",
		Args:    cobra.ExactArgs(1),
		Example: `  whisper topic from-url https://leetcode.com/problems/two-sum/description/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), hostctx.TopicFromURL(args[0]))
			return nil
		},
	}

	cmd.AddCommand(list, fromURL)
	return cmd
}
