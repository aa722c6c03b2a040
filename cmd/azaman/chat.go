package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nugget/azaman/internal/agent"
	"github.com/nugget/azaman/internal/prompts"
	"github.com/nugget/azaman/internal/state"
)

// userIDEnv supplies the chat user id when none is given on the command
// line.
const userIDEnv = "AZAMAN_USER_ID"

// runChat runs an interactive conversation in the terminal. Logs go to
// stderr so the transcript on stdout stays readable. "exit" or EOF ends
// the session; a store failure ends it with an error.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath, userID string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	in := bufio.NewScanner(stdin)

	if userID == "" {
		userID = os.Getenv(userIDEnv)
	}
	if userID == "" {
		fmt.Fprint(stdout, "Enter your User ID (e.g., jake00): ")
		if !in.Scan() {
			return errors.New("no user id given")
		}
		userID = strings.TrimSpace(in.Text())
	}
	if !state.ValidUserID(userID) {
		return fmt.Errorf("invalid user id %q: want 2-8 letters followed by 2 digits", userID)
	}
	threadID := state.ThreadID(userID)

	rt, err := openRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	st, err := rt.loop.State(ctx, threadID)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "Welcome to Aza Man, your AI financial assistant!")
	fmt.Fprintln(stdout, "Aza Man: "+prompts.Greeting(st))

	for {
		fmt.Fprint(stdout, "You: ")
		if !in.Scan() {
			fmt.Fprintln(stdout)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			fmt.Fprintln(stdout, "Goodbye!")
			return nil
		}

		resp, err := rt.loop.Run(ctx, &agent.Request{ThreadID: threadID, Message: line})
		switch {
		case err == nil:
		case errors.Is(err, state.ErrUnavailable), ctx.Err() != nil:
			return err
		default:
			// The turn was not saved; the user can retry.
			fmt.Fprintf(stderr, "error: %v\n", err)
			continue
		}
		if resp.Content != "" {
			fmt.Fprintln(stdout, "Aza Man: "+resp.Content)
		}
	}
}
