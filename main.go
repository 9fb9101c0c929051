package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/paper-agent/api"
	"github.com/fabfab/paper-agent/config"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/session"
	"github.com/fabfab/paper-agent/vectorstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "paper-agent",
		Short:         "Research paper assistant: extract, index and answer questions about papers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(serveCmd(&cfgPath), askCmd(&cfgPath), ingestCmd(&cfgPath), clearCmd(&cfgPath))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and wires the app. The returned
// cleanup closes connections and flushes the logger.
func setup(ctx context.Context, cfgPath string) (*app, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("logger setup: %w", err)
	}
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return a, func() {
		a.Close(context.Background())
		log.Sync()
	}, nil
}

func serveCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, cleanup, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = a.cfg.Server.Address
			}
			srv := api.NewServer(a.assistant, api.Options{MaxUploadBytes: a.cfg.Session.MaxUploadBytes}, a.log)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.log.Info("shutting down")
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}

func askCmd(cfgPath *string) *cobra.Command {
	var url, pdfPath, question, sessionID string
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask a question about a paper URL or a local PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (url == "") == (pdfPath == "") {
				return errors.New("exactly one of --url or --pdf is required")
			}
			if strings.TrimSpace(question) == "" {
				fmt.Print("Enter your question: ")
				scanner := bufio.NewScanner(os.Stdin)
				if scanner.Scan() {
					question = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read question: %w", err)
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, cleanup, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			// A throwaway session is cleared afterwards so its vectors do
			// not linger in the index.
			ephemeral := sessionID == ""
			if ephemeral {
				sessionID = session.NewID()
			}

			if url != "" {
				res, err := a.assistant.SubmitURL(ctx, sessionID, url)
				if err != nil {
					return err
				}
				a.log.Info("extracted paper", "status", res.Status.String(), "indexed", res.Indexed)
			} else {
				f, err := os.Open(pdfPath)
				if err != nil {
					return fmt.Errorf("open pdf: %w", err)
				}
				_, err = a.assistant.UploadPDF(ctx, sessionID, filepath.Base(pdfPath), f)
				f.Close()
				if err != nil {
					return err
				}
			}

			fmt.Println(a.assistant.Query(ctx, sessionID, question))

			if ephemeral {
				if _, err := a.assistant.ClearSession(ctx, sessionID); err != nil {
					a.log.Warn("clear session failed", "session_id", sessionID, "error", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "paper URL")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "path to a local PDF")
	cmd.Flags().StringVarP(&question, "question", "q", "", "question to ask (prompted when empty)")
	cmd.Flags().StringVar(&sessionID, "session", "", "reuse a session id; the session is kept afterwards")
	return cmd
}

func ingestCmd(cfgPath *string) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index every PDF, text and markdown file in a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, cleanup, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if a.vectors == nil {
				a.log.Warn("no vector store configured, documents will only be chunked")
			}
			n, err := a.ingestion.IngestDirectory(ctx, dir)
			if err != nil {
				return err
			}
			a.log.Info("ingestion finished", "dir", dir, "files", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "directory containing documents")
	return cmd
}

func clearCmd(cfgPath *string) *cobra.Command {
	var sessionID, source string
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete a session or every vector of a source",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (sessionID == "") == (source == "") {
				return errors.New("exactly one of --session or --source is required")
			}
			if !confirmed && !confirm("This will permanently delete indexed data. Continue? [y/N]: ") {
				fmt.Println("clear aborted")
				return nil
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, cleanup, err := setup(ctx, *cfgPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if sessionID != "" {
				msg, err := a.assistant.ClearSession(ctx, sessionID)
				if err != nil {
					return err
				}
				if msg == "No session to clear" && a.vectors != nil {
					// The record may live in another process's memory store;
					// its vectors are still ours to drop.
					a.vectors.Delete(ctx, vectorstore.Filter{SessionID: sessionID})
				}
				fmt.Println(msg)
				return nil
			}

			if a.vectors == nil {
				return errors.New("no vector store configured")
			}
			if !a.vectors.DeleteIdentifier(ctx, source) {
				return fmt.Errorf("could not delete vectors for %s", source)
			}
			fmt.Printf("Deleted vectors for %s\n", source)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to clear")
	cmd.Flags().StringVar(&source, "source", "", "URL or pdf:<name> source to clear")
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "skip confirmation prompt")
	return cmd
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
