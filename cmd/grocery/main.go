package main

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/grocery-tracker/internal/auth"
	"github.com/zombor/grocery-tracker/internal/client"
	"github.com/zombor/grocery-tracker/internal/entry"
	"github.com/zombor/grocery-tracker/internal/form"
	"github.com/zombor/grocery-tracker/internal/logging"
	"github.com/zombor/grocery-tracker/internal/table"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// app carries what every subcommand needs
type app struct {
	server *string
	token  *string
	stdin  io.Reader
	stdout io.Writer
}

func (a *app) client() *client.Client {
	return client.New(*a.server, client.StaticToken(*a.token))
}

func main() {
	logging.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdin, os.Stdout)
	if err := root.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("GROCERY")); err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stdin io.Reader, stdout io.Writer) *ff.Command {
	rootFlags := ff.NewFlagSet("grocery")
	a := &app{
		server: rootFlags.StringLong("server", "http://localhost:8080", "Grocery tracker server URL"),
		token:  rootFlags.StringLong("token", "", "Bearer token (JWT or Google ID token)"),
		stdin:  stdin,
		stdout: stdout,
	}
	showVersion := rootFlags.BoolLong("version", "Show version information")

	return &ff.Command{
		Name:      "grocery",
		Usage:     "grocery [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "track grocery spending and discounts",
		Flags:     rootFlags,
		Exec: func(ctx context.Context, args []string) error {
			if *showVersion {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return ff.ErrHelp
		},
		Subcommands: []*ff.Command{
			a.pingCommand(rootFlags),
			a.listCommand(rootFlags),
			a.addCommand(rootFlags),
			a.editCommand(rootFlags),
			a.deleteCommand(rootFlags),
			a.watchCommand(rootFlags),
			a.scanCommand(rootFlags),
			tokenCommand(rootFlags, stdout),
		},
	}
}

func (a *app) pingCommand(parent *ff.FlagSet) *ff.Command {
	return &ff.Command{
		Name:      "ping",
		Usage:     "grocery ping",
		ShortHelp: "check the server and the token",
		Flags:     ff.NewFlagSet("ping").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			body, err := a.client().Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, body)
			return nil
		},
	}
}

// sortFlags adds a repeatable --sort to fs. Each repeat is a click on that
// column header: asc, then desc, then back to the default order.
func sortFlags(fs *ff.FlagSet) func() (table.SortState, error) {
	columns := fs.StringListLong("sort", "Sort column: date, totalAmount or discountAmount; repeat to toggle asc, desc, off")
	return func() (table.SortState, error) {
		return table.Clicks(*columns...)
	}
}

func (a *app) listCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("list").SetParent(parent)
	state := sortFlags(fs)
	return &ff.Command{
		Name:      "list",
		Usage:     "grocery list [--sort COLUMN]...",
		ShortHelp: "show your entries as a table",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			sort, err := state()
			if err != nil {
				return err
			}
			entries, err := a.client().ListEntries(ctx)
			if err != nil {
				return err
			}
			return table.Render(a.stdout, entries, sort)
		},
	}
}

// fieldFlags adds --date, --total and --discount to fs and returns a function
// copying the flags that were given into f
func fieldFlags(fs *ff.FlagSet) func(f *form.Form) {
	date := fs.StringLong("date", "", "Purchase date, yyyy-mm-dd")
	total := fs.StringLong("total", "", "Total amount paid")
	discount := fs.StringLong("discount", "", "Discount received")
	return func(f *form.Form) {
		if *date != "" {
			f.Set(form.FieldDate, *date)
		}
		if *total != "" {
			f.Set(form.FieldTotal, *total)
			f.Blur(form.FieldTotal)
		}
		if *discount != "" {
			f.Set(form.FieldDiscount, *discount)
			f.Blur(form.FieldDiscount)
		}
	}
}

// submitter returns form handlers that send submissions through c and
// remember the result
func submitter(ctx context.Context, c *client.Client, saved **entry.Entry, errp *error) form.Handlers {
	return form.Handlers{
		Submit: func(s form.Submission) {
			if s.EntryID == "" {
				*saved, *errp = c.CreateEntry(ctx, s.Payload)
			} else {
				*saved, *errp = c.UpdateEntry(ctx, s.EntryID, s.Payload)
			}
		},
		CancelEdit: func() {
			slog.Debug("Edit finished")
		},
	}
}

func (a *app) printEntry(e *entry.Entry) error {
	return table.Render(a.stdout, []*entry.Entry{e}, table.SortState{})
}

func (a *app) addCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("add").SetParent(parent)
	apply := fieldFlags(fs)
	receipt := fs.StringLong("receipt", "", "Receipt image or PDF to prefill from")
	return &ff.Command{
		Name:      "add",
		Usage:     "grocery add [--date yyyy-mm-dd] [--total N] [--discount N] [--receipt FILE]",
		ShortHelp: "record a grocery purchase",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			c := a.client()
			var (
				saved *entry.Entry
				err   error
			)
			f := form.New(submitter(ctx, c, &saved, &err))

			if *receipt != "" {
				suggestion, scanErr := scanFile(ctx, c, *receipt)
				if scanErr != nil {
					return scanErr
				}
				f.Prefill(*suggestion)
			}
			apply(f)

			f.Submit()
			if err != nil {
				return err
			}
			return a.printEntry(saved)
		},
	}
}

func findEntry(ctx context.Context, c *client.Client, id string) (*entry.Entry, error) {
	entries, err := c.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("grocery entry %s not found", id)
}

func (a *app) editCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("edit").SetParent(parent)
	apply := fieldFlags(fs)
	return &ff.Command{
		Name:      "edit",
		Usage:     "grocery edit [--date yyyy-mm-dd] [--total N] [--discount N] <ID>",
		ShortHelp: "change an entry",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("edit requires exactly one entry ID")
			}
			c := a.client()
			current, err := findEntry(ctx, c, args[0])
			if err != nil {
				return err
			}

			var saved *entry.Entry
			f := form.New(submitter(ctx, c, &saved, &err))
			f.Select(current)
			apply(f)

			f.Submit()
			if err != nil {
				return err
			}
			return a.printEntry(saved)
		},
	}
}

// confirm asks question on stdout and reports whether the answer was yes
func (a *app) confirm(question string) bool {
	fmt.Fprintf(a.stdout, "%s [y/N] ", question)
	answer, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func (a *app) deleteCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("delete").SetParent(parent)
	yes := fs.BoolLong("yes", "Delete without asking for confirmation")
	return &ff.Command{
		Name:      "delete",
		Usage:     "grocery delete [--yes] <ID>",
		ShortHelp: "remove an entry",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("delete requires exactly one entry ID")
			}
			if !*yes && !a.confirm("Are you sure you want to delete this entry?") {
				fmt.Fprintln(a.stdout, "Cancelled")
				return nil
			}
			if err := a.client().DeleteEntry(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Deleted %s\n", args[0])
			return nil
		},
	}
}

func (a *app) watchCommand(parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("watch").SetParent(parent)
	state := sortFlags(fs)
	return &ff.Command{
		Name:      "watch",
		Usage:     "grocery watch [--sort COLUMN]...",
		ShortHelp: "print the table again whenever your entries change",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			sort, err := state()
			if err != nil {
				return err
			}
			sub, err := a.client().Subscribe(ctx)
			if err != nil {
				return err
			}
			defer sub.Stop()

			for snapshot := range sub.Updates() {
				fmt.Fprintf(a.stdout, "\n%s\n", time.Now().Format(time.Kitchen))
				if err := table.Render(a.stdout, snapshot, sort); err != nil {
					return err
				}
			}
			if ctx.Err() != nil {
				return nil
			}
			return sub.Err()
		},
	}
}

func scanFile(ctx context.Context, c *client.Client, path string) (*entry.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receipt: %w", err)
	}
	return c.ScanReceipt(ctx, path, data)
}

func (a *app) scanCommand(parent *ff.FlagSet) *ff.Command {
	return &ff.Command{
		Name:      "scan",
		Usage:     "grocery scan <FILE>",
		ShortHelp: "read a receipt and show the suggested entry without saving it",
		Flags:     ff.NewFlagSet("scan").SetParent(parent),
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("scan requires exactly one file")
			}
			suggestion, err := scanFile(ctx, a.client(), args[0])
			if err != nil {
				return err
			}

			f := form.New(form.Handlers{})
			f.Prefill(*suggestion)
			fmt.Fprintf(a.stdout, "date:     %s\ntotal:    %s\ndiscount: %s\n",
				f.Value(form.FieldDate), f.Value(form.FieldTotal), f.Value(form.FieldDiscount))
			return nil
		},
	}
}

func tokenCommand(parent *ff.FlagSet, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("token").SetParent(parent)
	secret := fs.StringLong("jwt-secret", "", "HS256 secret shared with the server")
	subject := fs.StringLong("subject", "", "User ID to issue the token for")
	ttl := fs.DurationLong("ttl", 30*24*time.Hour, "Token lifetime")
	return &ff.Command{
		Name:      "token",
		Usage:     "grocery token --jwt-secret SECRET --subject USER [--ttl DURATION]",
		ShortHelp: "issue a bearer token for a server running with --auth jwt",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if *secret == "" || *subject == "" {
				return errors.New("--jwt-secret and --subject are required")
			}
			token, err := auth.NewJWTVerifier(*secret).Issue(*subject, *ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
}
