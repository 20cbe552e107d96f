package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/kroma-labs/apiclient-go/apiclient"
)

func newRequestCmd(a *app) *cobra.Command {
	var (
		spec     apiclient.RequestSpec
		params   map[string]string
		headers  map[string]string
		body     string
		noCache  bool
		fresh    bool
		download string
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send one request and print its envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(params) > 0 {
				spec.Params = make(map[string]any, len(params))
				for k, v := range params {
					spec.Params[k] = v
				}
			}
			spec.Headers = headers
			if body != "" {
				if err := json.Unmarshal([]byte(body), &spec.JSON); err != nil {
					return fmt.Errorf("--json: %w", err)
				}
			}

			var extra []apiclient.Option
			if download != "" {
				fp, err := apiclient.NewFileParser(download)
				if err != nil {
					return err
				}
				extra = append(extra, apiclient.WithParser(apiclient.Use[apiclient.Parser](fp)))
			}

			c, err := a.newClient(extra...)
			if err != nil {
				return err
			}
			defer c.Close()

			switch {
			case noCache:
				c = c.Cacheless()
			case fresh:
				c = c.Refresh()
			}

			env, err := c.Request(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.print(env)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&spec.Method, "method", "X", "", "HTTP method (default from config)")
	f.StringVarP(&spec.Endpoint, "endpoint", "e", "", "endpoint path appended to the base URL")
	f.StringToStringVarP(&params, "param", "p", nil, "query parameter key=value (repeatable)")
	f.StringToStringVarP(&headers, "header", "H", nil, "header key=value (repeatable)")
	f.StringVar(&body, "json", "", "JSON request body")
	f.StringVar(&spec.Filename, "output", "", "file name when downloading")
	f.StringVar(&download, "download", "", "save the response body under this directory")
	f.BoolVar(&noCache, "no-cache", false, "bypass the cache")
	f.BoolVar(&fresh, "refresh", false, "skip the cache read but store the result")
	cmd.MarkFlagsMutuallyExclusive("no-cache", "refresh")
	return cmd
}
