// Package chat runs the interactive question loop.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/flarexio/docqa"
)

const (
	DefaultPrompt = "Ask a question: "
	ExitCommand   = "exit"
)

type Asker interface {
	Ask(ctx context.Context, question string) (*docqa.Answer, error)
}

type Session struct {
	In     io.Reader
	Out    io.Writer
	Prompt string
}

// Run reads one question per line until EOF or the exit command. A failed
// question is reported and the loop continues. Cancellation is checked
// between questions; a question already sent runs to completion.
func (s *Session) Run(ctx context.Context, asker Asker) error {
	prompt := s.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}

	fmt.Fprintf(s.Out, "Starting chat. Type '%s' to end the chat.\n", ExitCommand)

	scanner := bufio.NewScanner(s.In)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(s.Out, prompt)

		if !scanner.Scan() {
			fmt.Fprintln(s.Out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}

		if strings.EqualFold(question, ExitCommand) {
			fmt.Fprintln(s.Out, "Ending chat. Goodbye!")
			return nil
		}

		answer, err := asker.Ask(context.WithoutCancel(ctx), question)
		if err != nil {
			fmt.Fprintf(s.Out, "error: %s\n", err.Error())
			continue
		}

		fmt.Fprintf(s.Out, "AI: %s\n", answer.Text)
	}
}
