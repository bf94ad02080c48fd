package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-marczewski/ragline/internal/app"
	"github.com/a-marczewski/ragline/internal/lexical"
	"github.com/a-marczewski/ragline/internal/pipeline"
	"github.com/a-marczewski/ragline/internal/server"
	"github.com/a-marczewski/ragline/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ragline",
	Short: "ragline - retrieval-augmented answering pipeline",
	Long:  `ragline answers questions over an indexed document corpus with hybrid retrieval, reranking and answer verification.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ragline.toml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ragline v%s\n", version.Version)
		if latest, err := version.CheckForUpdates(cmd.Context()); err == nil && latest != "" {
			fmt.Printf("A newer version is available: v%s\n", latest)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.NewServer(a.Sequencer, a.Metrics, a.Probes, a.Logger, a.Config.ListenAddress)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			a.Logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		}
	},
}

var askStream bool

func init() {
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print stage progress while the answer is produced")
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question and print the result",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		req := pipeline.Request{Question: strings.Join(args, " ")}

		if askStream {
			for event := range a.Sequencer.Stream(cmd.Context(), req) {
				switch event.Type {
				case pipeline.EventStage:
					fmt.Fprintf(os.Stderr, "%-14s %s (%s)\n",
						event.Record.Stage, event.Record.Outcome, event.Record.Duration.Round(time.Millisecond))
				case pipeline.EventResult:
					printResult(event.Result)
				}
			}
			return nil
		}

		printResult(a.Sequencer.Run(cmd.Context(), req))
		return nil
	},
}

func printResult(result *pipeline.Result) {
	if result.Outcome == pipeline.RunDeclined {
		fmt.Printf("Declined: %s\n", result.DeclineReason)
		return
	}
	fmt.Println(result.Answer)
	fmt.Printf("\nconfidence=%.2f decision=%s candidates=%d\n",
		result.Confidence, result.Decision, len(result.Candidates))
}

var ingestSource string

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source document identifier for the ingested fragments")
	ingestCmd.MarkFlagRequired("source")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Index text fragments into the lexical corpus, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		count := 0
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			err := a.Lexical.Upsert(cmd.Context(), lexical.Fragment{
				ID:     uuid.NewString(),
				Source: ingestSource,
				Text:   text,
			})
			if err != nil {
				return err
			}
			count++
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		fmt.Printf("indexed %d fragments from %s\n", count, args[0])
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured dependencies and print their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.NewApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		checks := make(map[string]string)
		healthy := true
		for _, probe := range a.Probes {
			if err := probe.Check(ctx); err != nil {
				checks[probe.Name] = err.Error()
				healthy = false
			} else {
				checks[probe.Name] = "ok"
			}
		}

		out, _ := json.MarshalIndent(checks, "", "  ")
		fmt.Println(string(out))
		if !healthy {
			os.Exit(1)
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
