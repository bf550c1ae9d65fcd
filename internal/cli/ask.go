// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/conversation"
	"github.com/jeranaias/whisper/internal/hostctx"
	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/model"
)

// =============================================================================
// PROBLEM CONTEXT FLAGS
// =============================================================================

// problemFlags describe where the problem and the user's code come from.
type problemFlags struct {
	problem     string
	problemFile string
	language    string
	codeFile    string
	starterFile string
}

func (p *problemFlags) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.problem, "problem", "", "problem statement text")
	f.StringVar(&p.problemFile, "problem-file", "", "file holding the problem statement, re-read every turn")
	f.StringVarP(&p.language, "language", "l", "", "language you are writing in")
	f.StringVar(&p.codeFile, "code-file", "", "your solution file, tracked while you edit it")
	f.StringVar(&p.starterFile, "starter-file", "", "template code that counts as no code")
	cmd.MarkFlagsMutuallyExclusive("problem", "problem-file")
}

// options builds the context sources for topic. The returned cleanup must
// be called when the service is done.
func (p *problemFlags) options(topic string) ([]conversation.Option, func(), error) {
	var opts []conversation.Option
	cleanup := func() {}

	if p.problemFile != "" {
		opts = append(opts, conversation.WithProblemSource(hostctx.FileProblem{
			Path:     p.problemFile,
			Topic:    topic,
			Language: p.language,
		}))
	} else {
		opts = append(opts, conversation.WithProblemSource(hostctx.StaticProblem{
			Topic:     topic,
			Statement: p.problem,
			Language:  p.language,
		}))
	}

	if p.codeFile != "" {
		starter := ""
		if p.starterFile != "" {
			data, err := os.ReadFile(p.starterFile)
			if err != nil {
				return nil, cleanup, WrapError(err, "read starter code")
			}
			starter = string(data)
		}
		fc, err := hostctx.NewFileCode(p.codeFile, starter)
		if err != nil {
			return nil, cleanup, WrapError(err, "track code file")
		}
		opts = append(opts, conversation.WithCodeSource(fc))
		cleanup = func() {
			if err := fc.Close(); err != nil {
				logging.Debug("cli: close code watcher: %v", err)
			}
		}
	}
	return opts, cleanup, nil
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func (a *App) askCommand() *cobra.Command {
	var (
		pf       problemFlags
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Ask one question about the current problem",
		Long: `Send a single turn on the topic and print the reply.

With no arguments the question is read from stdin.`,
		Example: `  whisper ask --problem-file two-sum.md --code-file two_sum.py "am I on the right track?"
  whisper ask --topic https://leetcode.com/problems/two-sum/ "what should I try first?"`,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			question := strings.Join(args, " ")
			if strings.TrimSpace(question) == "" {
				if isTerminalReader(a.in) {
					return NewValidationErrorWithExample("question", "", "no question given", `whisper ask "how do I start?"`)
				}
				data, err := io.ReadAll(a.in)
				if err != nil {
					return WrapError(err, "read question")
				}
				question = string(data)
			}

			topic := a.resolveTopic(pf.problemFile)
			extra, cleanup, err := pf.options(topic)
			if err != nil {
				return err
			}
			defer cleanup()

			svc, err := a.service(ctx, topic, extra...)
			if err != nil {
				return err
			}
			defer svc.Close()

			reply, err := svc.SendTurn(ctx, question)
			if err != nil {
				if errors.Is(err, conversation.ErrEmptyTurn) {
					return NewValidationErrorWithExample("question", "", "question is blank", `whisper ask "how do I start?"`)
				}
				return err
			}

			if jsonMode {
				return NewJSONResponse("ask", askResult{Topic: topic, Message: reply}).Write(a.out)
			}
			r, err := a.renderer()
			if err != nil {
				return err
			}
			r.Message(reply)
			return nil
		}),
	}
	pf.bind(cmd)
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the reply as JSON")
	return cmd
}

type askResult struct {
	Topic   string            `json:"topic"`
	Message model.ChatMessage `json:"message"`
}
