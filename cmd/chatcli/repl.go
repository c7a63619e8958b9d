package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ashureev/truthguard-chat/internal/chat"
	"github.com/ashureev/truthguard-chat/internal/domain"
	"github.com/ashureev/truthguard-chat/internal/fallback"
)

const helpText = `Commands:
  /clear  clear the conversation
  /regen  regenerate the last reply
  /copy   print the conversation as plain text
  /help   show this help
  /quit   leave`

func runInteractive(ctx context.Context, sess *chat.Session, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdout:          out,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Fprintln(out, chat.PlainText(fallback.Welcome(modelLabel())))
	fmt.Fprintln(out)
	for _, q := range fallback.Suggestions {
		fmt.Fprintln(out, "  • "+q)
	}
	fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		if quit := handleLine(ctx, sess, line, out); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleLine runs one REPL line and reports whether the session should end.
func handleLine(ctx context.Context, sess *chat.Session, line string, out io.Writer) bool {
	switch strings.TrimSpace(line) {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, helpText)
		return false
	case "/clear":
		sess.Clear()
		fmt.Fprintln(out, chat.PlainText(fallback.Welcome(modelLabel())))
		return false
	case "/copy":
		fmt.Fprintln(out, sess.Transcript())
		return false
	case "/regen":
		msg, err := sess.Regenerate(ctx)
		report(out, msg, err)
		return false
	}

	msg, err := sess.Deliver(ctx, line)
	report(out, msg, err)
	return false
}

func report(out io.Writer, msg domain.Message, err error) {
	switch {
	case errors.Is(err, chat.ErrMessageTooLong):
		fmt.Fprintln(out, "(message too long)")
	case errors.Is(err, chat.ErrNoPriorMessage):
		fmt.Fprintln(out, "(nothing to regenerate yet)")
	case err != nil:
		fmt.Fprintf(out, "(not sent: %v)\n", err)
	default:
		printMessage(out, msg)
	}
}

func printMessage(out io.Writer, msg domain.Message) {
	header := msg.Sender + " (" + msg.ClockTime() + ")"
	if msg.Model != "" {
		header += " [" + msg.Model + "]"
	}
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, chat.PlainText(msg.Text))
	fmt.Fprintln(out)
}
