package main

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kroma-labs/apiclient-go/apiclient"
	"github.com/kroma-labs/apiclient-go/queue"
)

func newBatchCmd(a *app) *cobra.Command {
	var (
		sequential  bool
		distributed bool
	)

	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run a JSON array of request specs and print the envelopes in order",
		Long: `Run a JSON array of request specs ("-" reads stdin). Each element uses
the keys method, endpoint, params, data, json, headers, filename, cache and
cache_expire.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var items []map[string]any
			if err := json.Unmarshal(raw, &items); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			var extra []apiclient.Option
			if distributed {
				rdb := a.settings.RedisClient()
				if rdb == nil {
					return fmt.Errorf("--distributed needs redis.addr")
				}
				defer rdb.Close()

				ec := a.settings.ExecutorConfig()
				ec.Logger = a.logger
				exec, err := queue.NewExecutor(rdb, ec)
				if err != nil {
					return err
				}
				extra = append(extra, apiclient.WithExecutor(apiclient.Use[apiclient.Executor](exec)))
			}

			c, err := a.newClient(extra...)
			if err != nil {
				return err
			}
			defer c.Close()

			out, err := c.Dispatch(cmd.Context(), items, !sequential)
			if err != nil {
				return err
			}
			return a.print(out)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&sequential, "sequential", false, "run specs one at a time")
	f.BoolVar(&distributed, "distributed", false, "run specs on queue workers")
	cmd.MarkFlagsMutuallyExclusive("sequential", "distributed")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}
