package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamrank",
		Short:         "Trending scores for short-form content and streaming provider selection",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(trendingCmd())
	root.AddCommand(providersCmd())
	root.AddCommand(ingestCmd())

	return root
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func trendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Trending score jobs",
	}

	var (
		limit    int
		minViews int64
	)
	batch := &cobra.Command{
		Use:   "batch",
		Short: "Score recent content and update sound scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrendingBatch(limit, minViews)
		},
	}
	batch.Flags().IntVar(&limit, "limit", 0, "max items to score (default: 5000)")
	batch.Flags().Int64Var(&minViews, "min-views", 0, "override the minimum views threshold")

	var jsonOutput bool
	calc := &cobra.Command{
		Use:   "calc <content-id>",
		Short: "Recompute the trending score of one content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrendingCalc(args[0], jsonOutput)
		},
	}
	calc.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	var topLimit int
	top := &cobra.Command{
		Use:   "top",
		Short: "Show top trending content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrendingTop(topLimit)
		},
	}
	top.Flags().IntVar(&topLimit, "limit", 20, "max items to show")

	cmd.AddCommand(batch, calc, top)
	return cmd
}

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Streaming provider operations",
	}

	var features []string
	best := &cobra.Command{
		Use:   "best",
		Short: "Show the provider a new stream would use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvidersBest(features)
		},
	}
	best.Flags().StringSliceVar(&features, "feature", nil, "required feature (repeatable)")

	check := &cobra.Command{
		Use:   "check",
		Short: "Probe all providers and update their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvidersCheck()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List providers with health and capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvidersList()
		},
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Apply provider settings from the config file to the database",
		Long: `Writes each configured provider's settings (enabled, priority, limits,
features, URLs, credentials) over the stored row. Health and usage counters
are kept. Providers only in the database are left alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvidersSync()
		},
	}

	cmd.AddCommand(best, check, list, sync)
	return cmd
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.jsonl>",
		Short: "Load content engagement snapshots from a JSON lines file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(args[0])
		},
	}
}
