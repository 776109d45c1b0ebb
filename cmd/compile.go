package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roadmate/roadmate/internal/agent"
	"github.com/roadmate/roadmate/internal/schema"
)

var (
	compileAgent    string
	compileUser     string
	compileSession  string
	compileScope    string
	compileMessages bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <task>",
	Short: "Show the context that would be sent to the model for a task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompile,
}

func init() {
	compileCmd.Flags().StringVarP(&compileAgent, "agent", "a", agent.AgentAssistant, "Agent identity (assistant, planner, executor)")
	compileCmd.Flags().StringVarP(&compileSession, "session", "s", "", "Session whose events form the working context")
	compileCmd.Flags().StringVar(&compileScope, "scope", string(agent.ScopeDefault), "Event visibility scope (default, planner, executor)")
	compileCmd.Flags().BoolVar(&compileMessages, "messages", false, "Print the assembled chat messages instead of JSON")
	userFlag(compileCmd, &compileUser)
}

func runCompile(_ *cobra.Command, args []string) error {
	container, err := openContainer()
	if err != nil {
		return err
	}
	defer container.Close()

	cfg := appConfig.Compiler.WithScope(agent.Scope(compileScope))
	if err := cfg.Validate(); err != nil {
		return err
	}

	compiled, err := container.Compiler().Compile(context.Background(), agent.CompileRequest{
		AgentID:     compileAgent,
		UserID:      resolveUser(compileUser),
		CurrentTask: strings.Join(args, " "),
		SessionID:   compileSession,
	}, cfg)
	if err != nil {
		return err
	}

	if compileMessages {
		for _, m := range compiled.ToMessages().Messages {
			fmt.Printf("[%s]\n%s\n\n", m.Role, m.Content)
		}
		return nil
	}

	out := newCompileOutput(compiled)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// compileOutput is the JSON view of a compiled context. The working context
// and memories are rendered the way they are shown to the model.
type compileOutput struct {
	Context         *schema.CompiledContext `json:"context"`
	WorkingContext  []compiledEvent         `json:"working_context"`
	Memories        []string                `json:"retrieved_memories"`
	CompilationTime float64                 `json:"compilation_time_ms"`
}

type compiledEvent struct {
	Sequence int64            `json:"sequence"`
	Type     schema.EventType `json:"type"`
	Text     string           `json:"text"`
}

func newCompileOutput(c *schema.CompiledContext) compileOutput {
	out := compileOutput{
		Context:         c,
		WorkingContext:  make([]compiledEvent, 0, len(c.WorkingContext)),
		Memories:        make([]string, 0, len(c.RetrievedMemories)),
		CompilationTime: c.CompilationTimeMs(),
	}
	for _, ev := range c.WorkingContext {
		out.WorkingContext = append(out.WorkingContext, compiledEvent{
			Sequence: ev.Sequence,
			Type:     ev.Type,
			Text:     schema.EventText(ev),
		})
	}
	for _, m := range c.RetrievedMemories {
		out.Memories = append(out.Memories, schema.MemoryText(m))
	}
	return out
}
