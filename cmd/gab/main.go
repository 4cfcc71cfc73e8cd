// cmd/gab is a thin demo CLI exercising pkg/gab: build a source file,
// run it, or drop into a line-at-a-time REPL. It is not the full host
// dispatcher spec.md §1 calls out of scope for this specification —
// that is a separate program a real embedder would write against
// pkg/gab — this is a smoke-test entrypoint in the same spirit as the
// teacher's own cmd/devcmd/main.go.
//
// Grounded on cli/main.go's cobra root-command wiring: a root Command
// with persistent flags, SilenceErrors on, subcommands returning an
// error the root prints and turns into an exit code.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gab-lang/gab/internal/config"
	"github.com/gab-lang/gab/internal/diag"
	"github.com/gab-lang/gab/pkg/gab"
)

func main() {
	var (
		workers     int
		moduleRoots []string
		debug       bool
	)

	rootCmd := &cobra.Command{
		Use:           "gab",
		Short:         "Build, run, and explore Gab programs",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "scheduler worker count (0 = engine default)")
	rootCmd.PersistentFlags().StringArrayVar(&moduleRoots, "module-root", nil, "directory to search for use()'d modules (repeatable)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level logging")

	newEngine := func() *gab.Engine {
		level := slog.LevelWarn
		if debug {
			level = slog.LevelDebug
		}
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		opts := []config.Option{config.WithLogger(log)}
		if workers > 0 {
			opts = append(opts, config.WithWorkerCount(workers))
		}
		for _, root := range moduleRoots {
			opts = append(opts, config.WithModuleRoot(root))
		}
		return gab.New(config.New(opts...))
	}

	rootCmd.AddCommand(buildCmd(newEngine), runCmd(newEngine), replCmd(newEngine))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gab: %v\n", err)
		os.Exit(1)
	}
}

func buildCmd(newEngine func() *gab.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "build <file>",
		Short: "Parse and compile a source file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			e := newEngine()
			defer e.Close()
			if _, gerr := e.Build(args[0], string(src)); gerr != nil {
				printDiag(e, args[0], gerr)
				return fmt.Errorf("build failed")
			}
			fmt.Fprintf(os.Stdout, "%s: ok\n", args[0])
			return nil
		},
	}
}

func runCmd(newEngine func() *gab.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "run <file>",
		Short: "Build and run a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			e := newEngine()
			defer e.Close()

			ctx, cancel := signalContext()
			defer cancel()

			result, gerr := e.Run(ctx, args[0], string(src))
			if gerr != nil {
				printDiag(e, args[0], gerr)
				return fmt.Errorf("run failed")
			}
			fmt.Fprintln(os.Stdout, e.Display(result))
			return nil
		},
	}
}

func replCmd(newEngine func() *gab.Engine) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Read a line, run it, print the result, loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := newEngine()
			defer e.Close()

			ctx, cancel := signalContext()
			defer cancel()

			scanner := bufio.NewScanner(os.Stdin)
			unit := 0
			fmt.Fprintln(os.Stdout, "gab repl. ^D or ^C to exit.")
			for {
				fmt.Fprint(os.Stdout, "gab> ")
				if !scanner.Scan() {
					fmt.Fprintln(os.Stdout)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				unit++
				name := fmt.Sprintf("<repl:%d>", unit)
				result, gerr := e.Run(ctx, name, line)
				if gerr != nil {
					printDiag(e, name, gerr)
					continue
				}
				fmt.Fprintln(os.Stdout, e.Display(result))
			}
		},
	}
}

// signalContext cancels on SIGINT/SIGTERM, mirroring the teacher's
// newCancellableContext so Ctrl+C propagates into a running fiber
// instead of just killing the process mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// printDiag renders gerr against the engine's retained source for name,
// falling back to the bare message if no source was retained (the repl's
// synthetic <repl:N> names always have one; a future non-file input path
// might not).
func printDiag(e *gab.Engine, name string, gerr *diag.Error) {
	if src := e.Source(name); src != nil {
		fmt.Fprint(os.Stderr, gerr.Pretty(src))
		return
	}
	fmt.Fprintln(os.Stderr, gerr.Message)
}
