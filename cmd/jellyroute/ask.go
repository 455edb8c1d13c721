package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Strob0t/JellyRoute/internal/domain/task"
)

// errTaskFailed makes ask exit non-zero after printing the failure.
var errTaskFailed = errors.New("task failed")

// runAsk routes one request from the command line. On a terminal,
// clarification and confirmation questions are answered interactively;
// otherwise the task runs non-interactively.
func runAsk(args []string) error {
	cfg, flags, closeLog, err := loadConfig(args, "warn")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer closeLog()

	text := strings.TrimSpace(strings.Join(flags.Args, " "))
	if text == "" {
		return errors.New(`usage: jellyroute ask "<text>"`)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd())) //nolint:gosec // fd fits in int
	return converse(ctx, a.supervisor, text, interactive, os.Stdin, os.Stdout)
}

type handler interface {
	Handle(ctx context.Context, req task.Request) (*task.Response, error)
}

// converse runs text and keeps answering follow-up questions from in until
// the task settles.
func converse(ctx context.Context, h handler, text string, interactive bool, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	req := task.Request{Text: text, Interactive: &interactive}

	for {
		resp, err := h.Handle(ctx, req)
		if err != nil {
			return err
		}

		switch resp.Status {
		case task.ResponseDone:
			fmt.Fprintln(out, resp.Answer)
			return nil
		case task.ResponseFailed:
			fmt.Fprintf(out, "%s: %s\n", resp.Failure.Kind, resp.Failure.Message)
			return errTaskFailed
		case task.ResponseNeedsClarification:
			fmt.Fprintf(out, "%s\n> ", resp.Clarification)
		case task.ResponseNeedsConfirmation:
			fmt.Fprintf(out, "%s [yes/no]\n> ", resp.Confirmation.Prompt)
		}

		reply, err := reader.ReadString('\n')
		reply = strings.TrimSpace(reply)
		if reply == "" {
			if err == nil || errors.Is(err, io.EOF) {
				return errors.New("no reply given")
			}
			return fmt.Errorf("read reply: %w", err)
		}

		req.Turns = append(req.Turns,
			task.Turn{Role: task.RoleUser, Kind: task.TurnMessage, Content: req.Text},
			resp.FollowUpTurn())
		req.SessionID = resp.SessionID
		req.Text = reply
	}
}
