// Command sdtpatch rewrites SDT probe call sites in ELF relocatable
// object files, replacing each call to a probe stub with a no-op and
// recording the site in a linker-visible instance set.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdtpatch/sdtpatch/internal/driver"
)

// rootOptions carries the flags and derived state shared by the root
// command's RunE across invocations.
type rootOptions struct {
	configPath string
	verbose    bool

	config *driver.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sdtpatch [object files...]",
		Short: "Rewrite SDT probe call sites in ELF object files",
		Args:  cobra.MinimumNArgs(1),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			opts.config = cfg

			return nil
		},
		RunE: func(_ *cobra.Command, args []string) error {
			return driver.Run(args, *opts.config, opts.logger)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to an optional naming-convention config file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

// main exits 1 on any error: driver.Run only ever returns a non-nil
// error for the fatal case (spec.md §7), since a skipped file is
// logged as a warning and reported as success.
func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
