// Command smartcal is a terminal client for the smart-services calendar.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"smartcal/internal/cli"
	"smartcal/internal/core"
	"smartcal/internal/icsexport"
	"smartcal/internal/worker"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage error")

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// env carries what every command needs.
type env struct {
	app    *cli.App
	format string
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

var commands = map[string]command{
	"login":         {"sign in and optionally remember the credentials", runLogin},
	"logout":        {"end the session and forget saved credentials", runLogout},
	"status":        {"show the current session", runStatus},
	"month":         {"show smart-services events of a month", runMonth},
	"events":        {"fetch events by id", runEvents},
	"schedule":      {"fetch schedule rows by event id", runSchedule},
	"announcements": {"list active announcements", runAnnouncements},
	"user":          {"show the signed-in user", runUser},
	"export-ics":    {"write a month as an iCalendar file", runExportICS},
}

func main() {
	ctx, stop := cli.SignalContext(context.Background())
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("smartcal", flag.ContinueOnError)
	global.SetOutput(stderr)
	format := global.String("format", "json", "output format: json or yaml")
	global.Usage = func() { printUsage(stderr, global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *format != "json" && *format != "yaml" {
		fmt.Fprintf(stderr, "smartcal: unknown format %q\n", *format)
		return exitUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr, global)
		return exitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "smartcal: unknown command %q\n", rest[0])
		printUsage(stderr, global)
		return exitUsage
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(stderr, "smartcal:", err)
		return exitFailure
	}
	logger := cli.SetupLogger(cfg, stderr)

	app, err := cli.OpenApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, "smartcal:", err)
		return exitFailure
	}
	defer app.Close()

	e := &env{app: app, format: *format, stdout: stdout, stderr: stderr, now: time.Now}
	return exitCode(stderr, rest[0], cmd.run(ctx, e, rest[1:]))
}

func exitCode(stderr io.Writer, name string, err error) int {
	var authErr *core.AuthError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "smartcal %s: %v\n", name, err)
		return exitUsage
	case errors.As(err, &authErr):
		fmt.Fprintf(stderr, "smartcal %s: %v\n", name, err)
		fmt.Fprintln(stderr, "hint: run `smartcal login -email <email> -remember` to sign in")
		return exitFailure
	default:
		fmt.Fprintf(stderr, "smartcal %s: %v\n", name, err)
		return exitFailure
	}
}

func printUsage(w io.Writer, global *flag.FlagSet) {
	fmt.Fprintln(w, "usage: smartcal [-format json|yaml] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	global.PrintDefaults()
}

// newFlags returns a sub-command flag set whose parse errors are usage errors.
func newFlags(e *env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("smartcal "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageErrorf("%v", err)
	}
	if fs.NArg() > 0 {
		return usageErrorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

func (e *env) print(v any) error {
	if e.format == "yaml" {
		enc := yaml.NewEncoder(e.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(e.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runLogin(ctx context.Context, e *env, args []string) error {
	fs := newFlags(e, "login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (or SMARTCAL_PASSWORD)")
	remember := fs.Bool("remember", false, "save the credentials for automatic re-login")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *password == "" {
		*password = os.Getenv("SMARTCAL_PASSWORD")
	}
	if strings.TrimSpace(*email) == "" || *password == "" {
		return usageErrorf("-email and -password are required")
	}

	if err := e.app.Client.Login(ctx, strings.TrimSpace(*email), *password, *remember); err != nil {
		return err
	}
	return e.print(e.app.Client.Session(ctx))
}

func runLogout(ctx context.Context, e *env, args []string) error {
	if err := parseFlags(newFlags(e, "logout"), args); err != nil {
		return err
	}
	e.app.Client.Logout(ctx)
	return e.print(e.app.Client.Session(ctx))
}

func runStatus(ctx context.Context, e *env, args []string) error {
	if err := parseFlags(newFlags(e, "status"), args); err != nil {
		return err
	}
	return e.print(e.app.Client.Session(ctx))
}

// monthFlags registers -year and -month defaulting to the current month.
func monthFlags(e *env, fs *flag.FlagSet) (year, month *int) {
	now := e.now().In(e.app.Client.Location())
	year = fs.Int("year", now.Year(), "year")
	month = fs.Int("month", int(now.Month()), "month, 1-12")
	return year, month
}

func checkMonth(month int) error {
	if month < 1 || month > 12 {
		return usageErrorf("-month must be between 1 and 12, got %d", month)
	}
	return nil
}

func runMonth(ctx context.Context, e *env, args []string) error {
	fs := newFlags(e, "month")
	year, month := monthFlags(e, fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := checkMonth(*month); err != nil {
		return err
	}

	data, err := e.app.Client.GetSmartServicesMonthData(ctx, *year, *month-1)
	if err != nil {
		return err
	}
	return e.print(data)
}

func runEvents(ctx context.Context, e *env, args []string) error {
	fs := newFlags(e, "events")
	raw := fs.String("ids", "", "comma separated event ids")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ids, err := parseIDs(*raw)
	if err != nil {
		return err
	}

	events, err := e.app.Client.GetEvents(ctx, ids)
	if err != nil {
		return err
	}
	return e.print(events)
}

func runSchedule(ctx context.Context, e *env, args []string) error {
	fs := newFlags(e, "schedule")
	raw := fs.String("ids", "", "comma separated event ids")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	ids, err := parseIDs(*raw)
	if err != nil {
		return err
	}

	rows, err := e.app.Client.GetSchedule(ctx, ids)
	if err != nil {
		return err
	}
	return e.print(rows)
}

func runAnnouncements(ctx context.Context, e *env, args []string) error {
	fs := newFlags(e, "announcements")
	cached := fs.Bool("cached", false, "print the last snapshot stored by smartcal-server")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if *cached {
		snap, ok := worker.LoadAnnouncements(ctx, e.app.Client.Settings())
		if !ok {
			return errors.New("no stored announcements")
		}
		return e.print(snap)
	}

	items, err := e.app.Client.GetAnnouncements(ctx)
	if err != nil {
		return err
	}
	return e.print(items)
}

func runUser(ctx context.Context, e *env, args []string) error {
	if err := parseFlags(newFlags(e, "user"), args); err != nil {
		return err
	}
	user, err := e.app.Client.GetUser(ctx)
	if err != nil {
		return err
	}
	return e.print(user)
}

func runExportICS(ctx context.Context, e *env, args []string) error {
	fs := newFlags(e, "export-ics")
	year, month := monthFlags(e, fs)
	out := fs.String("out", "-", "output file, - for stdout")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := checkMonth(*month); err != nil {
		return err
	}

	data, err := e.app.Client.GetSmartServicesMonthData(ctx, *year, *month-1)
	if err != nil {
		return err
	}
	body, err := icsexport.Encode(data, e.app.Client.Location())
	if err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}

	if *out == "-" {
		_, err = io.WriteString(e.stdout, body)
		return err
	}
	if err := os.WriteFile(*out, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(e.stderr, "wrote %d events to %s\n", len(data.Events), *out)
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	ids := []int64{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, usageErrorf("id %q must be a positive integer", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
