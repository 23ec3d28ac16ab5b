// Command codi is a terminal-based autonomous coding assistant: it drives
// the agent loop against a configured provider, gates every tool call
// through the approval pipeline, and persists session history to a local
// store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/laynepenney/codi/agentloop"
	"github.com/laynepenney/codi/approval"
	"github.com/laynepenney/codi/internal/audit"
	"github.com/laynepenney/codi/internal/config"
	"github.com/laynepenney/codi/internal/sessionstore"
	"github.com/laynepenney/codi/unifiedllm"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitConfigErr = 2
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		providerFlag string
		modelFlag    string
		sessionFlag  string
		auditFlag    bool
		configFlag   string
		noColorFlag  bool
	)

	cmd := &cobra.Command{
		Use:   "codi [prompt]",
		Short: "Run the agentic coding loop against a configured model provider",
		Args:  cobra.ArbitraryArgs,
	}
	exitCode := exitOK
	cmd.RunE = func(c *cobra.Command, args []string) error {
		code, err := runSession(c.Context(), runOptions{
			provider: providerFlag,
			model:    modelFlag,
			session:  sessionFlag,
			audit:    auditFlag,
			config:   configFlag,
			noColor:  noColorFlag,
			prompt:   strings.Join(args, " "),
		})
		exitCode = code
		return err
	}

	flags := cmd.Flags()
	flags.StringVar(&providerFlag, "provider", "", "model provider (anthropic, openai, gemini)")
	flags.StringVar(&modelFlag, "model", "", "model identifier")
	flags.StringVar(&sessionFlag, "session", "", "session id (recorded in the config; no earlier session is reloaded)")
	flags.BoolVar(&auditFlag, "audit", false, "write an audit log for this session")
	flags.StringVar(&configFlag, "config", "", "path to a .codi config file")
	flags.BoolVar(&noColorFlag, "no-color", false, "disable ANSI color output")

	cmd.AddCommand(newWorkerCommand())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			return exitCancelled
		}
		fmt.Fprintf(os.Stderr, "codi: %v\n", err)
		if exitCode == exitOK {
			exitCode = exitError
		}
		return exitCode
	}
	if ctx.Err() != nil {
		return exitCancelled
	}
	return exitCode
}

type runOptions struct {
	provider string
	model    string
	session  string
	audit    bool
	config   string
	noColor  bool
	prompt   string
}

func runSession(ctx context.Context, opts runOptions) (int, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return exitConfigErr, err
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.audit {
		cfg.Audit = true
	}
	if opts.noColor {
		cfg.NoColor = true
	}
	cfg.SessionID = opts.session

	noColor := cfg.NoColor || !isatty.IsTerminal(os.Stdout.Fd())
	out := newRenderer(os.Stdout, noColor)

	profile, err := buildProfile(cfg.Provider, cfg.Model)
	if err != nil {
		return exitConfigErr, err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return exitError, fmt.Errorf("resolving working directory: %w", err)
	}
	env := agentloop.NewLocalExecutionEnvironment(workDir)

	sessionConfig := agentloop.DefaultSessionConfig()
	if cfg.MaxIterations > 0 {
		sessionConfig.MaxToolRoundsPerInput = cfg.MaxIterations
	}
	if cfg.SystemPromptAdditions != "" {
		sessionConfig.UserInstructions = cfg.SystemPromptAdditions
	}
	if cfg.ContextHeadroom > 0 {
		sessionConfig.ContextHeadroomPct = cfg.ContextHeadroom
	}

	session := agentloop.NewSession(profile, env, &sessionConfig)
	defer session.Close()

	filter := approval.NewFilter(cfg.DangerousPatterns)
	gate := approval.NewGate(filter, terminalPrompt(out), cfg.AutoApprove)
	session.SetApprovalGate(gate)

	var auditSink *audit.Sink
	if cfg.Audit {
		dir, err := config.AuditDir()
		if err != nil {
			return exitError, err
		}
		auditSink, err = audit.Open(dir, session.ID())
		if err != nil {
			return exitError, fmt.Errorf("opening audit sink: %w", err)
		}
		defer auditSink.Close()
	}

	store, err := openStore(cfg, session, profile, workDir)
	if err != nil {
		return exitError, err
	}
	defer store.Close()

	go relayEvents(session, out, auditSink)

	if opts.prompt != "" {
		if err := submitAndPersist(ctx, session, store, opts.prompt); err != nil {
			if ctx.Err() != nil {
				return exitCancelled, nil
			}
			return exitError, err
		}
		return exitOK, nil
	}

	return runREPL(ctx, session, store, out)
}

func buildProfile(provider, model string) (agentloop.ProviderProfile, error) {
	providerID := strings.ToLower(provider)
	if providerID == "" {
		providerID = "anthropic"
	}

	if model == "" {
		if latest := unifiedllm.GetLatestModel(providerID, ""); latest != nil {
			model = latest.ID
		}
	}

	switch providerID {
	case "anthropic":
		if model == "" {
			model = "claude-3-7-sonnet-20250219"
		}
		return agentloop.NewAnthropicProfile(model), nil
	case "openai":
		if model == "" {
			model = "gpt-4.1"
		}
		return agentloop.NewOpenAIProfile(model), nil
	case "gemini":
		if model == "" {
			model = "gemini-1.5-pro"
		}
		return agentloop.NewGeminiProfile(model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func openStore(cfg config.Config, session *agentloop.Session, profile agentloop.ProviderProfile, workDir string) (*sessionstore.Store, error) {
	dir, err := config.SessionDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	store, err := sessionstore.Open(context.Background(), filepath.Join(dir, session.ID()+".db"))
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	if err := store.CreateSession(context.Background(), &sessionstore.Session{
		ID:         session.ID(),
		Provider:   profile.ID(),
		Model:      profile.ModelID(),
		WorkingDir: workDir,
		State:      string(agentloop.StateIdle),
	}); err != nil {
		store.Close()
		return nil, fmt.Errorf("recording session: %w", err)
	}
	return store, nil
}

// submitAndPersist runs one turn and appends every new history entry to the
// session store, using the store's own sequence numbering to stay append-only.
func submitAndPersist(ctx context.Context, session *agentloop.Session, store *sessionstore.Store, input string) error {
	before := len(session.History())
	err := session.Submit(ctx, input)
	persistErr := persistTail(store, session, before)
	if err != nil {
		return err
	}
	return persistErr
}

func persistTail(store *sessionstore.Store, session *agentloop.Session, from int) error {
	history := session.History()
	for i := from; i < len(history); i++ {
		turn := history[i]
		msg := &sessionstore.Message{
			SessionID: session.ID(),
			Kind:      string(turn.Kind),
			Content:   turn.TextContent(),
		}
		if turn.Assistant != nil {
			msg.Reasoning = turn.Assistant.Reasoning
			msg.TokenCount = turn.Assistant.Usage.TotalTokens
		}
		if _, err := store.AppendMessage(context.Background(), msg); err != nil {
			return fmt.Errorf("persisting turn %d: %w", i, err)
		}
	}
	return nil
}

func runREPL(ctx context.Context, session *agentloop.Session, store *sessionstore.Store, out *renderer) (int, error) {
	out.info("codi ready. Type your request, or Ctrl-D to exit.")
	scanner := newStdinScanner()
	for {
		out.prompt()
		line, ok := scanner.next(ctx)
		if !ok {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := submitAndPersist(ctx, session, store, line); err != nil {
			if ctx.Err() != nil {
				return exitCancelled, nil
			}
			out.errorf("%v", err)
		}
	}
	if ctx.Err() != nil {
		return exitCancelled, nil
	}
	return exitOK, nil
}
