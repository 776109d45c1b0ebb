package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roadmate/roadmate/internal/agent"
)

var (
	chatMessage string
	chatSession string
	chatUser    string
	chatEnd     bool
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Continue this session instead of the user's active one")
	chatCmd.Flags().BoolVar(&chatEnd, "end", false, "End the session when leaving")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Show plan and sub-task results")
	userFlag(chatCmd, &chatUser)
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

func runChat(_ *cobra.Command, _ []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &chatSessionState{
		assistant: container.Assistant(),
		userID:    resolveUser(chatUser),
		sessionID: chatSession,
	}

	if chatMessage != "" {
		turnCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
		err = s.send(turnCtx, chatMessage)
	} else {
		err = s.interactive(ctx)
	}
	if err != nil {
		return err
	}

	if chatEnd && s.sessionID != "" {
		res, err := s.assistant.EndSession(context.WithoutCancel(ctx), s.sessionID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Session %s ended (%d events compacted)\n", s.sessionID, res.EventsCompacted)
	}
	return nil
}

type chatSessionState struct {
	assistant *agent.Assistant
	userID    string
	sessionID string
}

func (s *chatSessionState) send(ctx context.Context, message string) error {
	var (
		res agent.TurnResult
		err error
	)
	if s.sessionID == "" {
		res, err = s.assistant.HandleTurn(ctx, s.userID, message)
	} else {
		res, err = s.assistant.HandleSessionTurn(ctx, s.userID, s.sessionID, message)
	}
	s.sessionID = res.SessionID
	if res.OrchestrationResult != nil {
		printTurn(res)
	}
	return err
}

// interactive reads lines from stdin until EOF, an exit command or ctx ends.
func (s *chatSessionState) interactive(ctx context.Context) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", logo)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("You: ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println("\nGoodbye!")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Println("\nGoodbye!")
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}

		if err := s.send(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, agent.ErrSessionCompleted) {
				return err
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func printTurn(res agent.TurnResult) {
	if chatVerbose {
		if p := res.Plan; p != nil {
			fmt.Printf("  ↳ plan: %s\n", p.Goal)
		}
		for _, r := range res.Results {
			fmt.Printf("  ↳ %s [%s] %s\n", r.SubTaskID, r.Status, r.Objective)
		}
	}
	fmt.Printf("\n%s roadmate\n%s\n\n", logo, res.Response)
}
