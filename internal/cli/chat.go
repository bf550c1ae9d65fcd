// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/whisper/internal/config"
	"github.com/jeranaias/whisper/internal/conversation"
	"github.com/jeranaias/whisper/internal/logging"
	"github.com/jeranaias/whisper/internal/provider"
	"github.com/jeranaias/whisper/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of chat input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with history loaded from the config dir.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

func (a *App) chatCommand() *cobra.Command {
	var pf problemFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive hint session for the current problem",
		Args:  cobra.NoArgs,
		Example: `  whisper chat --problem-file two-sum.md --code-file two_sum.py
  whisper chat --topic two-sum`,
		RunE: a.runE(func(ctx context.Context, args []string) error {
			if !isTerminalReader(a.in) {
				return &TTYRequiredError{Operation: "chat"}
			}
			input := NewChatCLI()
			defer input.Close()

			session, cleanup, err := a.newChatSession(ctx, &pf, input)
			if err != nil {
				return err
			}
			defer cleanup()
			return session.run()
		}),
	}
	pf.bind(cmd)
	return cmd
}

// chatSession is one REPL over a conversation service.
type chatSession struct {
	app   *App
	svc   *conversation.Service
	keys  *config.KeyStore
	r     *Renderer
	input lineReader
	out   io.Writer
	errs  io.Writer

	// base outlives a Ctrl+C that cancelled one turn.
	base context.Context
}

func (a *App) newChatSession(ctx context.Context, pf *problemFlags, input lineReader) (*chatSession, func(), error) {
	topic := a.resolveTopic(pf.problemFile)
	extra, cleanup, err := pf.options(topic)
	if err != nil {
		return nil, cleanup, err
	}
	svc, err := a.service(ctx, topic, extra...)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	keys, err := a.keyStore()
	if err != nil {
		svc.Close()
		cleanup()
		return nil, func() {}, err
	}
	r, err := a.renderer()
	if err != nil {
		svc.Close()
		cleanup()
		return nil, func() {}, err
	}
	s := &chatSession{
		app:   a,
		svc:   svc,
		keys:  keys,
		r:     r,
		input: input,
		out:   a.out,
		errs:  a.errOut,
		base:  context.WithoutCancel(ctx),
	}
	return s, func() { svc.Close(); cleanup() }, nil
}

func (s *chatSession) run() error {
	s.printWelcome()
	s.showMore()

	for {
		line, err := s.input.ReadInput(s.r.style(PromptStyle, "whisper> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			keepGoing, err := s.handleSlash(line)
			if err != nil {
				s.printError(err)
			}
			if !keepGoing {
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}

		s.turn(line)
	}
}

// turn sends one message. Ctrl+C cancels the turn, not the session.
func (s *chatSession) turn(text string) {
	ctx, stop := signal.NotifyContext(s.base, os.Interrupt)
	defer stop()

	fmt.Fprintln(s.out, s.r.Dim("thinking..."))
	reply, err := s.svc.SendTurn(ctx, text)
	switch {
	case errors.Is(err, conversation.ErrStaleResult):
		s.r.Notice("Reply for the previous topic was saved to its history.")
		return
	case err != nil:
		s.printError(err)
		return
	}
	fmt.Fprintln(s.out)
	s.r.Message(reply)
}

func (s *chatSession) printError(err error) {
	fmt.Fprintf(s.errs, "%s %v\n", s.r.style(ErrorStyle, "[Error]"), err)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlash runs a slash command and reports whether the REPL continues.
func (s *chatSession) handleSlash(line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return false, nil
	case "/help", "/?":
		s.printHelp()
	case "/more":
		s.showMore()
	case "/clear":
		if err := s.svc.ClearConversation(s.base); err != nil {
			return true, err
		}
		s.r.Notice("Conversation cleared for %s.", s.svc.Topic())
	case "/model":
		return true, s.handleModel(args)
	case "/topic":
		if len(args) == 0 {
			s.r.Notice("Topic: %s", s.svc.Topic())
			return true, nil
		}
		topic := topicFor(strings.Join(args, " "), "")
		if err := s.svc.Open(s.base, topic); err != nil {
			return true, err
		}
		s.r.Notice("Switched to %s.", topic)
		s.showMore()
	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return true, nil
}

func (s *chatSession) handleModel(args []string) error {
	if len(args) == 0 {
		id := s.keys.Selection()
		if id == "" {
			s.r.Notice("No model selected. Use /model <id>; see `whisper models`.")
			return nil
		}
		info, _ := provider.Lookup(id)
		s.r.Notice("Model: %s (%s)", info.Name, id)
		return nil
	}
	id := args[0]
	if _, ok := provider.Lookup(id); !ok {
		return ErrUnknownModel(id)
	}
	if err := s.keys.SetSelection(id); err != nil {
		return err
	}
	if _, ok := s.keys.Credentials(id); !ok {
		s.r.Notice("Selected %s. No API key yet; add one with `whisper key set %s`.", id, id)
		return nil
	}
	s.r.Notice("Selected %s.", id)
	return nil
}

// showMore prints the next older page. The first call shows the newest.
func (s *chatSession) showMore() {
	page, err := s.svc.LoadMore(s.base)
	if err != nil {
		s.printError(err)
		return
	}
	if len(page.Messages) == 0 {
		if page.TotalCount > 0 {
			s.r.Notice("No older messages.")
		}
		return
	}
	s.r.Separator()
	s.r.Messages(page.Messages)
	if s.svc.HasMore() {
		s.r.Notice("Older messages available: /more")
	}
	s.r.Separator()
}

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out, s.r.style(TitleStyle, "whisper")+"  "+s.r.Dim("topic: "+s.svc.Topic()))
	if id := s.keys.Selection(); id != "" {
		fmt.Fprintln(s.out, s.r.Dim("model: "+id))
	} else {
		fmt.Fprintln(s.out, s.r.style(WarningStyle, "No model selected yet. Use /model <id>."))
	}
	fmt.Fprintln(s.out, s.r.Dim("Type /help for commands, /quit to leave."))
	fmt.Fprintln(s.out)
	logging.Debug("cli: chat started on %q", s.svc.Topic())
}

func (s *chatSession) printHelp() {
	rows := [][2]string{
		{"/more", "show older messages"},
		{"/clear", "delete this topic's history"},
		{"/model [id]", "show or select the model"},
		{"/topic [name|url]", "show or switch the topic"},
		{"/help", "show this help"},
		{"/quit", "leave the chat"},
	}
	for _, row := range rows {
		fmt.Fprintf(s.out, "  %s %s\n", s.r.style(HighlightStyle, util.PadRight(row[0], 20)), row[1])
	}
}
