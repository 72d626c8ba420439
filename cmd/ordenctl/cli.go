package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"git.sr.ht/~jakintosh/orden/internal/client"
	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/reconciler"
)

// CLI wires the ordenctl commands to a viper instance so flags, ORDEN_*
// environment variables and ordenctl.yaml all resolve the same keys.
type CLI struct {
	rootCmd *cobra.Command
	v       *viper.Viper
	out     io.Writer
	errOut  io.Writer
}

func NewCLI(out, errOut io.Writer) *CLI {
	cli := &CLI{v: viper.New(), out: out, errOut: errOut}
	cli.setupViperConfig()
	cli.createRootCommand()
	cli.addCommands()
	return cli
}

func (cli *CLI) setupViperConfig() {
	cli.v.SetConfigName("ordenctl")
	cli.v.SetConfigType("yaml")
	cli.v.AddConfigPath(".")
	cli.v.AddConfigPath("$HOME/.config/orden")

	cli.v.SetEnvPrefix("ORDEN")
	cli.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cli.v.AutomaticEnv()

	cli.v.SetDefault("server", "http://localhost:8080")
	cli.v.SetDefault("format", "table")
	cli.v.SetDefault("debounce", 0)
	cli.v.SetDefault("timeout", 30*time.Second)

	// a missing config file is fine
	_ = cli.v.ReadInConfig()
}

func (cli *CLI) createRootCommand() {
	cli.rootCmd = &cobra.Command{
		Use:   "ordenctl",
		Short: "Reorder collections and move pipeline leads on an orden server",
		Long: `ordenctl drives an orden server over its HTTP API.

Configuration sources, highest precedence first:
  1. Command line flags
  2. Environment variables (ORDEN_SERVER, ORDEN_FORMAT, ...)
  3. ordenctl.yaml in the current directory or $HOME/.config/orden`,
		SilenceUsage: true,
	}
	cli.rootCmd.SetOut(cli.out)
	cli.rootCmd.SetErr(cli.errOut)

	flags := cli.rootCmd.PersistentFlags()
	flags.StringP("server", "s", "", "orden server base URL")
	flags.StringP("format", "f", "", "output format (table|json|yaml)")
	flags.Duration("debounce", 0, "coalesce moves that arrive within this window")
	flags.Duration("timeout", 0, "overall timeout for the command")
	for _, name := range []string{"server", "format", "debounce", "timeout"} {
		_ = cli.v.BindPFlag(name, flags.Lookup(name))
	}
}

func (cli *CLI) addCommands() {
	cli.rootCmd.AddCommand(
		&cobra.Command{
			Use:   "list <coleccion> <owner>",
			Short: "Show a collection in rank order",
			Args:  cobra.ExactArgs(2),
			RunE:  cli.runList,
		},
		&cobra.Command{
			Use:   "add <coleccion> <owner> <nombre>",
			Short: "Append a new item to a collection",
			Args:  cobra.ExactArgs(3),
			RunE:  cli.runAdd,
		},
		&cobra.Command{
			Use:   "move <coleccion> <owner> <source>:<target>|<source>@<position>...",
			Short: "Drop items onto the position of other items",
			Long: `Each move drops <source> onto the current position of <target>, or at
<position> counted from 1. Moves run in order against the locally reordered
list; with --debounce they are saved as a single write.`,
			Args: cobra.MinimumNArgs(3),
			RunE: cli.runMove,
		},
		&cobra.Command{
			Use:   "board <crm>",
			Short: "Show the pipeline of a CRM",
			Args:  cobra.ExactArgs(1),
			RunE:  cli.runBoard,
		},
		&cobra.Command{
			Use:   "mover-lead <crm> <lead> <etapa>",
			Short: "Move a lead to another pipeline stage",
			Args:  cobra.ExactArgs(3),
			RunE:  cli.runMoveLead,
		},
	)
}

func (cli *CLI) Execute(args []string) error {
	cli.rootCmd.SetArgs(args)
	return cli.rootCmd.Execute()
}

func (cli *CLI) client() *client.Client {
	return client.New(cli.v.GetString("server"))
}

func (cli *CLI) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout := cli.v.GetDuration("timeout"); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (cli *CLI) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(cli.errOut, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func (cli *CLI) notifier() reconciler.Notifier {
	return reconciler.NotifierFunc(func(kind reconciler.NoticeKind, msg string) {
		if kind == reconciler.NoticeError {
			fmt.Fprintln(cli.errOut, "error:", msg)
			return
		}
		fmt.Fprintln(cli.errOut, msg)
	})
}

func parseListArgs(args []string) (domain.Coleccion, string, error) {
	col, err := domain.ParseColeccion(args[0])
	if err != nil {
		return "", "", err
	}
	return col, args[1], nil
}

func (cli *CLI) runList(cmd *cobra.Command, args []string) error {
	col, ownerID, err := parseListArgs(args)
	if err != nil {
		return err
	}
	ctx, cancel := cli.context(cmd)
	defer cancel()

	items, err := cli.client().Fetch(ctx, col, ownerID)
	if err != nil {
		return err
	}
	return cli.printItems(items)
}

func (cli *CLI) runAdd(cmd *cobra.Command, args []string) error {
	col, ownerID, err := parseListArgs(args)
	if err != nil {
		return err
	}
	ctx, cancel := cli.context(cmd)
	defer cancel()

	it, err := cli.client().AddItem(ctx, col, ownerID, args[2])
	if err != nil {
		return err
	}
	return cli.printItems([]*domain.Item{it})
}

// movePair is one "<source>:<target>" or "<source>@<position>" argument.
type movePair struct {
	source   string
	target   string
	position int // 1-based, only when target is empty
}

func parseMoves(raw []string) ([]movePair, error) {
	moves := make([]movePair, len(raw))
	for i, arg := range raw {
		if source, pos, ok := strings.Cut(arg, "@"); ok {
			n, err := strconv.Atoi(pos)
			if source == "" || err != nil || n < domain.RankBase {
				return nil, domain.Invalid("move", "posicion invalida en %q", arg)
			}
			moves[i] = movePair{source: source, position: n}
			continue
		}
		source, target, ok := strings.Cut(arg, ":")
		if !ok || source == "" || target == "" {
			return nil, domain.Invalid("move", "se esperaba <origen>:<destino> u <origen>@<posicion>, no %q", arg)
		}
		moves[i] = movePair{source: source, target: target}
	}
	return moves, nil
}

func (cli *CLI) runMove(cmd *cobra.Command, args []string) error {
	col, ownerID, err := parseListArgs(args)
	if err != nil {
		return err
	}
	moves, err := parseMoves(args[2:])
	if err != nil {
		return err
	}
	ctx, cancel := cli.context(cmd)
	defer cancel()

	opts := cli.client().ListOptions(col, ownerID)
	opts.Debounce = cli.v.GetDuration("debounce")
	opts.Notifier = cli.notifier()
	opts.Logger = cli.logger()

	r := reconciler.New(opts)
	defer r.Close()
	if err := r.Load(ctx); err != nil {
		return err
	}

	for _, m := range moves {
		if m.target == "" {
			_, err = r.MoveTo(m.source, m.position-domain.RankBase)
		} else {
			_, err = r.Move(m.source, m.target)
		}
		if err != nil {
			return err
		}
	}
	if err := r.Flush(ctx); err != nil {
		return err
	}
	return cli.printItems(r.Items())
}

func (cli *CLI) runBoard(cmd *cobra.Command, args []string) error {
	ctx, cancel := cli.context(cmd)
	defer cancel()

	board, err := cli.client().Board(ctx, args[0])
	if err != nil {
		return err
	}
	return cli.printBoard(board)
}

func (cli *CLI) runMoveLead(cmd *cobra.Command, args []string) error {
	ctx, cancel := cli.context(cmd)
	defer cancel()

	opts := cli.client().BoardOptions(args[0])
	opts.Notifier = cli.notifier()
	opts.Logger = cli.logger()

	r := reconciler.NewBoard(opts)
	defer r.Close()
	if err := r.Load(ctx); err != nil {
		return err
	}
	if _, err := r.MoveCard(args[1], args[2]); err != nil {
		return err
	}
	if err := r.Flush(ctx); err != nil {
		return err
	}
	return cli.printBoard(r.Board())
}

// Output

func (cli *CLI) encode(v any) (bool, error) {
	switch cli.v.GetString("format") {
	case "json":
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(cli.out)
		defer enc.Close()
		return true, enc.Encode(v)
	case "table", "":
		return false, nil
	default:
		return true, domain.Invalid("format", "formato desconocido %q", cli.v.GetString("format"))
	}
}

func (cli *CLI) printItems(items []*domain.Item) error {
	if done, err := cli.encode(items); done {
		return err
	}
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDEN\tID\tNOMBRE\tACTIVO")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", it.Rank(), it.ID, it.Nombre, it.Activo)
	}
	return tw.Flush()
}

func (cli *CLI) printBoard(board *domain.Board) error {
	if done, err := cli.encode(board); done {
		return err
	}
	tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ETAPA\tLEAD\tNOMBRE\tVALOR")
	for _, col := range board.Columns {
		if len(col.Leads) == 0 {
			fmt.Fprintf(tw, "%s\t-\t\t\n", col.Etapa.Nombre)
			continue
		}
		for _, l := range col.Leads {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\n", col.Etapa.Nombre, l.ID, l.Nombre, l.ValorEstimado)
		}
	}
	return tw.Flush()
}
