package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kroma-labs/apiclient-go/apiclient"
	"github.com/kroma-labs/apiclient-go/queue"
)

func newWorkerCmd(a *app) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued batch tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rdb := a.settings.RedisClient()
			if rdb == nil {
				return fmt.Errorf("worker needs redis.addr")
			}
			defer rdb.Close()

			wc := a.settings.WorkerConfig()
			if concurrency > 0 {
				wc.Concurrency = concurrency
			}
			wc.Logger = a.logger
			// Credentials come from local settings, never from the task.
			if opt, ok := a.settings.AuthOption(); ok {
				wc.ClientOptions = append(wc.ClientOptions, opt)
			}
			wc.ClientOptions = append(wc.ClientOptions, apiclient.WithLogger(a.logger))

			w, err := queue.NewWorker(rdb, wc)
			if err != nil {
				return err
			}
			defer w.Close()

			return w.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "tasks processed at once (default from config)")
	return cmd
}
