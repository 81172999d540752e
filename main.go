package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries the global flags.
type AppOptions struct {
	ConfigFile string
	Landmarks  string
	Model      string
	LogLevel   string
	Masked     bool
	HTTPPort   int
}

// AppRunner is the behaviour behind the subcommands.
type AppRunner interface {
	ApplyOptions(opts AppOptions) error
	RunSolve(w io.Writer) error
	RunWarp(w io.Writer, points []string, inverse bool) error
	RunInvert(output string) error
	RunGrid(w io.Writer, bounds string, step float64) error
	RunServe(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], NewApp(), os.Stdout); err != nil {
		logrus.WithError(err).Error("warpmesh failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, app AppRunner, out io.Writer) error {
	cmd := newRootCmd(app)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(app AppRunner) *cobra.Command {
	var opts AppOptions
	root := &cobra.Command{
		Use:           "warpmesh",
		Short:         "Landmark based registration between a moving and a fixed space",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.ApplyOptions(opts)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigFile, "config", "c", "", "path to the YAML configuration")
	pf.StringVarP(&opts.Landmarks, "landmarks", "l", "", "landmark CSV file (overrides config)")
	pf.StringVarP(&opts.Model, "model", "m", "", "transform model: translation, rigid, similarity, affine or tps")
	pf.StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.BoolVar(&opts.Masked, "masked", false, "blend the mask's local model into the global model")

	root.AddCommand(&cobra.Command{
		Use:   "solve",
		Short: "Fit the model to the active landmarks and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSolve(cmd.OutOrStdout())
		},
	})

	var inverse bool
	warpCmd := &cobra.Command{
		Use:   "warp POINT...",
		Short: "Map moving points into fixed space (x,y[,z])",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunWarp(cmd.OutOrStdout(), args, inverse)
		},
	}
	warpCmd.Flags().BoolVar(&inverse, "inverse", false, "map fixed points into moving space instead")
	root.AddCommand(warpCmd)

	var output string
	invertCmd := &cobra.Command{
		Use:   "invert",
		Short: "Write the landmarks with moving and fixed swapped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunInvert(output)
		},
	}
	invertCmd.Flags().StringVarP(&output, "output", "o", "inverted.csv", "output landmark file")
	root.AddCommand(invertCmd)

	var bounds string
	var step float64
	gridCmd := &cobra.Command{
		Use:   "grid",
		Short: "Add a grid of fixed landmarks paired through the current transform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunGrid(cmd.OutOrStdout(), bounds, step)
		},
	}
	gridCmd.Flags().StringVar(&bounds, "bounds", "", "minX,minY,maxX,maxY in fixed space (default: landmark extent)")
	gridCmd.Flags().Float64Var(&step, "step", 0, "grid spacing (default from config)")
	root.AddCommand(gridCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the landmark table over HTTP and MQTT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunServe(cmd.Context())
		},
	}
	serveCmd.Flags().IntVar(&opts.HTTPPort, "http-port", 0, "HTTP port (default from config)")
	root.AddCommand(serveCmd)

	return root
}
