// Command apiclient issues requests through a configured client, runs
// batches from a JSON file, and hosts queue workers.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kroma-labs/apiclient-go/apiclient"
	"github.com/kroma-labs/apiclient-go/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app is the state shared by every subcommand once flags are parsed.
type app struct {
	configFile string
	envFile    string
	logLevel   string

	out      io.Writer
	logger   zerolog.Logger
	settings *config.Settings
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{out: stdout}

	root := &cobra.Command{
		Use:           "apiclient",
		Short:         "Configurable HTTP request pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := zerolog.ParseLevel(a.logLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", a.logLevel, err)
			}
			a.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).
				Level(level).
				With().
				Timestamp().
				Str("service", "apiclient").
				Logger()

			var opts []config.LoaderOption
			if a.configFile != "" {
				opts = append(opts, config.WithConfigFile(a.configFile))
			}
			if a.envFile != "" {
				opts = append(opts, config.WithEnvFile(a.envFile))
			}
			a.settings, err = config.Load(opts...)
			return err
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (YAML or JSON)")
	flags.StringVar(&a.envFile, "env-file", "", ".env file to load before reading APICLIENT_* variables")
	flags.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRequestCmd(a),
		newBatchCmd(a),
		newWorkerCmd(a),
	)
	return root
}

// newClient builds a client from the loaded settings plus extra options.
func (a *app) newClient(extra ...apiclient.Option) (*apiclient.Client, error) {
	opts, err := a.settings.Options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, apiclient.WithLogger(a.logger))
	return apiclient.New(append(opts, extra...)...)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
