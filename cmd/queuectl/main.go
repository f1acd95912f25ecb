// Command queuectl inspects and edits the benchmark queue and leaderboard
// worksheets from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jungseoik/abnormal-leaderboard/internal/app/queue"
	"github.com/jungseoik/abnormal-leaderboard/internal/config"
	"github.com/jungseoik/abnormal-leaderboard/internal/infra/sheets"
	"github.com/jungseoik/abnormal-leaderboard/pkg/common/logger"
)

// session holds what every subcommand needs once flags are parsed.
type session struct {
	configPath string
	worksheet  string
	column     string
	asJSON     bool

	cfg    *config.Config
	table  *sheets.RateLimitedTable
	log    *logger.Logger
	tracer trace.Tracer
	out    io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	s := &session{out: out, tracer: noop.NewTracerProvider().Tracer("queuectl")}

	rootCmd := &cobra.Command{
		Use:   "queuectl",
		Short: "Manage the benchmark queue worksheet",
		Long: `queuectl reads and edits the queue and leaderboard worksheets
through the same table backends the worker uses.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.load(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&s.configPath, "config", "c", os.Getenv("LEADERBOARD_CONFIG"), "Path to a YAML config file")
	flags.StringVarP(&s.worksheet, "worksheet", "w", "", "Worksheet to operate on (default: queue worksheet)")
	flags.StringVar(&s.column, "column", "", "Column to operate on (default: queue column)")
	flags.BoolVar(&s.asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(
		newPushCmd(s),
		newPopCmd(s),
		newListCmd(s),
		newDeleteCmd(s),
		newColumnsCmd(s),
		newSubmitCmd(s),
		newCancelCmd(s),
		newLeaderboardCmd(s),
		newConfigCmd(s),
	)
	return rootCmd
}

func (s *session) load(ctx context.Context) error {
	cfg, err := config.NewViperLoader(s.configPath).Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s.cfg = cfg
	s.log = logger.New(os.Stderr, logger.ParseLevel(cfg.LogLevel), "queuectl", nil)
	return nil
}

// open connects the table lazily so commands like config work offline.
func (s *session) open(ctx context.Context) (*sheets.RateLimitedTable, error) {
	if s.table != nil {
		return s.table, nil
	}
	table, err := sheets.Open(ctx, s.cfg.TableOptions(), s.tracer)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	s.table = table
	return table, nil
}

// store binds a queue store to the selected worksheet and column.
func (s *session) store(ctx context.Context) (*queue.Store, error) {
	table, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	sc := s.cfg.StoreConfig()
	if s.worksheet != "" {
		sc.Worksheet = s.worksheet
	}
	if s.column != "" {
		sc.Column = s.column
	}
	return queue.NewStore(ctx, table, sc, s.log, s.tracer)
}

func (s *session) close() error {
	if s.table == nil {
		return nil
	}
	return s.table.Close()
}

func (s *session) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
