// cmd/behaviorctl/main.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keshon/behavior-sim/internal/behavior"
	"github.com/keshon/behavior-sim/internal/config"
	"github.com/keshon/behavior-sim/internal/engine"
	"github.com/keshon/behavior-sim/internal/safety"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	tablesDir string
	json      bool
	verbose   bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "behaviorctl",
		Short:         "Inspect and exercise the behavior engine offline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.tablesDir, "tables", os.Getenv("BEHAVIOR_TABLES_DIR"), "directory overriding the embedded YAML tables")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print JSON instead of text")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")

	root.AddCommand(
		newDetectCommand(opts),
		newModerateCommand(opts),
		newAccessCommand(opts),
		newConsentCommand(opts),
		newReplayCommand(opts),
		newTablesCommand(opts),
		newStateCommand(opts),
	)
	return root
}

func (o *globalOptions) logger() zerolog.Logger {
	if !o.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
}

// newEngine builds an in-memory engine from the configured tables.
func (o *globalOptions) newEngine(clock func() time.Time, consent safety.ConsentStore, store engine.Store) (*engine.Engine, error) {
	cfg := config.Config{TablesDir: o.tablesDir}
	override, err := cfg.TablesFS()
	if err != nil {
		return nil, err
	}
	opts := engine.Options{Logger: o.logger(), Clock: clock, Consent: consent, Store: store}
	if override != nil {
		if opts.Tables, err = behavior.LoadTables(override); err != nil {
			return nil, err
		}
		if opts.Safety, err = safety.LoadConfig(override); err != nil {
			return nil, err
		}
	}
	return engine.New(opts)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseCategory(s string) (behavior.Category, error) {
	c := behavior.Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %s", behavior.ErrUnknownCategory, s)
	}
	return c, nil
}
