package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"timbal-cli/internal/api"
	"timbal-cli/internal/chat"
	"timbal-cli/internal/config"
	"timbal-cli/internal/render"
	"timbal-cli/internal/run"
	"timbal-cli/internal/session"
	"timbal-cli/internal/transcript"
	"timbal-cli/internal/util"
	"timbal-cli/internal/version"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "timbal [prompt]",
		Short:         "timbal - streaming chat client for Timbal apps",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if cfg.App == "" {
				fmt.Fprintln(os.Stderr, "an app is required: pass --app or set TIMBAL_APP")
				os.Exit(2)
			}
			if cfg.APIKey == "" && cfg.AccessToken == "" {
				fmt.Fprintln(os.Stderr, "credentials are required: set TIMBAL_API_KEY or TIMBAL_ACCESS_TOKEN")
				os.Exit(2)
			}

			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			store := session.NewStore(session.NewHTTPRefresher(cfg.BaseURL, nil), logger)
			store.SetTokens(session.Tokens{Access: cfg.AccessToken, Refresh: cfg.RefreshToken})

			client := api.NewClient(api.Options{
				BaseURL:        cfg.BaseURL,
				APIKey:         cfg.APIKey,
				Credentials:    store,
				MaxRetries:     cfg.MaxRetries,
				RetryBaseDelay: cfg.RetryBaseDelay,
				RequestTimeout: cfg.RequestTimeout,
				Logger:         logger,
			})

			attach, _ := cmd.Flags().GetStringSlice("attach")

			if len(args) > 0 {
				ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				return runOnce(ctx, cfg, logger, client, strings.Join(args, " "), attach)
			}
			return runREPL(context.Background(), cfg, logger, client)
		},
	}

	cmd.Flags().String("base-url", config.DefaultBaseURL, "Platform API base URL")
	cmd.Flags().String("app", "", "App to run")
	cmd.Flags().StringSlice("attach", nil, "Attach a local file to the prompt (repeatable)")
	cmd.Flags().String("request-timeout", config.DefaultRequestTimeout.String(), "Per-attempt request timeout (e.g. 30s)")
	cmd.Flags().String("stream-timeout", config.DefaultStreamTimeout.String(), "Overall turn timeout (e.g. 5m)")
	cmd.Flags().Int("max-retries", config.DefaultMaxRetries, "Retry attempts for failed requests")
	cmd.Flags().Bool("no-stream", false, "Use the synchronous run endpoint")
	cmd.Flags().Bool("json", false, "Print the transcript as JSON")
	cmd.Flags().Bool("quiet", false, "Only print response text")
	cmd.Flags().Bool("verbose", false, "Enable verbose logging")
	cmd.Flags().String("log-file", "", "Write plain-text output to a file")
	cmd.Flags().Int("history-lines", config.DefaultHistoryLines, "Number of prompt history entries to keep")
	cmd.Flags().Bool("no-history", false, "Disable prompt history")
	cmd.Flags().Bool("persist-runs", false, "Save finished turns under the data directory")

	cmd.AddCommand(newWhoamiCmd())
	return cmd
}

func runOnce(ctx context.Context, cfg config.Config, logger *zap.Logger, client *api.Client, prompt string, attach []string) error {
	files, err := uploadAttachments(ctx, cfg, client, attach)
	if err != nil {
		return err
	}

	if cfg.JSON {
		var opts []chat.Option
		if cfg.NoStream {
			opts = append(opts, chat.WithoutStreaming())
		}
		sess := chat.NewSession(client, cfg.App, logger, opts...)
		turnCtx, cancel := context.WithTimeout(ctx, cfg.StreamTimeout)
		defer cancel()
		runErr := sess.Submit(turnCtx, prompt, files...)
		if cfg.PersistRuns {
			persistRun(logger, sess.Messages())
		}
		printTranscript(sess.Messages())
		return runErr
	}

	writer, closeWriter, err := outputWriter(cfg)
	if err != nil {
		return err
	}
	defer closeWriter()

	renderer := render.NewStdoutRenderer(writer, cfg.Verbose, cfg.Quiet)
	sess := newChatSession(cfg, logger, client, renderer)

	turnCtx, cancel := context.WithTimeout(ctx, cfg.StreamTimeout)
	defer cancel()
	runErr := sess.Submit(turnCtx, prompt, files...)
	_ = renderer.Close()

	if !cfg.NoHistory {
		util.AppendPromptHistory(prompt)
	}
	if cfg.PersistRuns {
		persistRun(logger, sess.Messages())
	}
	return runErr
}

func runREPL(ctx context.Context, cfg config.Config, logger *zap.Logger, client *api.Client) error {
	renderer := render.NewStdoutRenderer(os.Stdout, cfg.Verbose, cfg.Quiet)
	sess := newChatSession(cfg, logger, client, renderer)

	// ^C cancels the in-flight turn instead of killing the REPL
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		for range interrupt {
			sess.Cancel()
		}
	}()

	if !cfg.Quiet {
		fmt.Printf("timbal %s - chatting with %s (/quit to exit)\n", version.Version, cfg.App)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			for _, entry := range util.LoadPromptHistory(cfg.HistoryLines) {
				fmt.Println(entry)
			}
			continue
		case line == "/regen":
			if err := runTurn(ctx, cfg, sess, renderer, func(turnCtx context.Context) error {
				return sess.Regenerate(turnCtx, "")
			}); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			continue
		}

		if !cfg.NoHistory {
			util.AppendPromptHistory(line)
		}
		if err := runTurn(ctx, cfg, sess, renderer, func(turnCtx context.Context) error {
			return sess.Submit(turnCtx, line)
		}); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	if cfg.PersistRuns {
		persistRun(logger, sess.Messages())
	}
	return scanner.Err()
}

func runTurn(ctx context.Context, cfg config.Config, sess *chat.Session, renderer render.Renderer, turn func(context.Context) error) error {
	turnCtx, cancel := context.WithTimeout(ctx, cfg.StreamTimeout)
	defer cancel()
	err := turn(turnCtx)
	_ = renderer.Close()
	return err
}

func newChatSession(cfg config.Config, logger *zap.Logger, client *api.Client, renderer render.Renderer) *chat.Session {
	opts := []chat.Option{
		chat.WithObserver(func(ev *run.Event) { renderer.Emit(ev) }),
	}
	if cfg.NoStream {
		opts = append(opts, chat.WithoutStreaming())
	}
	return chat.NewSession(client, cfg.App, logger, opts...)
}

func uploadAttachments(ctx context.Context, cfg config.Config, client *api.Client, paths []string) ([]api.FileRef, error) {
	var files []api.FileRef
	for _, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		ref, err := client.UploadFile(ctx, cfg.App, filepath.Base(path), file)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", path, err)
		}
		files = append(files, ref)
	}
	return files, nil
}

func outputWriter(cfg config.Config) (io.Writer, func(), error) {
	if cfg.LogFile == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stdout, file), func() { _ = file.Close() }, nil
}

func printTranscript(messages []transcript.Message) {
	payload, _ := json.MarshalIndent(messages, "", "  ")
	fmt.Fprintln(os.Stdout, string(payload))
}

func persistRun(logger *zap.Logger, messages []transcript.Message) {
	if len(messages) == 0 {
		return
	}
	runID := "untracked"
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].RunID != "" {
			runID = messages[i].RunID
			break
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("failed to get home dir", zap.Error(err))
		return
	}
	dir := filepath.Join(home, ".local", "share", "timbal-cli", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create run directory", zap.Error(err))
		return
	}
	payload, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		logger.Warn("failed to marshal transcript", zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(dir, runID+".json"), payload, 0o600); err != nil {
		logger.Warn("failed to write transcript", zap.Error(err))
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the authenticated account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Root())
			if err != nil {
				return err
			}
			if cfg.AccessToken == "" {
				fmt.Fprintln(os.Stderr, "a session is required: set TIMBAL_ACCESS_TOKEN")
				os.Exit(2)
			}

			logger := buildLogger(cfg.Verbose)
			defer func() { _ = logger.Sync() }()

			store := session.NewStore(session.NewHTTPRefresher(cfg.BaseURL, nil), logger)
			store.SetTokens(session.Tokens{Access: cfg.AccessToken, Refresh: cfg.RefreshToken})
			authed := session.NewAuthClient(cfg.BaseURL, store, nil)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			resp, err := authed.Do(ctx, http.MethodGet, "auth/me", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("whoami failed with status %d", resp.StatusCode)
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, body, "", "  "); err != nil {
				fmt.Fprintln(os.Stdout, string(body))
				return nil
			}
			fmt.Fprintln(os.Stdout, pretty.String())
			return nil
		},
	}
}

func buildLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
