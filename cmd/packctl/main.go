// packctl is the operator CLI for the pre-arrival API: it mints development
// tokens, files and reviews documents, and builds or shares packs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"prearrival/api/internal/auth"
	"prearrival/api/internal/catalog"
	"prearrival/api/internal/checklist"
	"prearrival/api/internal/client"
	"prearrival/api/internal/logger"
	"prearrival/api/internal/optimistic"
	"prearrival/api/internal/pack"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, e *env, args []string) error
}

type env struct {
	apiURL string
	token  string
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func (e *env) client() *client.Client {
	return client.New(e.apiURL, e.token, nil)
}

var commands = []command{
	{"token", "", "mint a bearer token for local development", runToken},
	{"session", "", "show who the token belongs to", runSession},
	{"status", "REQUEST", "show the checklist of a request", runStatus},
	{"upload", "REQUEST DOC FILE", "file a document", runUpload},
	{"note", "REQUEST DOC TEXT", "attach a note to a document", runNote},
	{"approve", "REQUEST DOC", "approve a ship document", runApprove},
	{"reject", "REQUEST DOC", "reject a ship document with --reason", runReject},
	{"download", "REQUEST", "download the approved pack", runDownload},
	{"share", "REQUEST", "publish the pack and print its share link", runShare},
	{"build-local", "REQUEST", "assemble the pack here and upload only the archive", runBuildLocal},
	{"queue", "", "search the review queue", runQueue},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	e := &env{stdout: stdout, stderr: stderr, now: time.Now}
	flagSet := pflag.NewFlagSet("packctl", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&e.apiURL, "api", envOr("PREARRIVAL_API_URL", "http://localhost:8787"), "API base URL")
	flagSet.StringVar(&e.token, "token", os.Getenv("PREARRIVAL_TOKEN"), "bearer token")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return pflag.ErrHelp
	}
	for _, cmd := range commands {
		if cmd.name == rest[0] {
			return cmd.run(ctx, e, rest[1:])
		}
	}
	return fmt.Errorf("unknown command %q", rest[0])
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: packctl [--api URL] [--token TOKEN] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-12s %-18s %s\n", cmd.name, cmd.args, cmd.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "global flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newFlags(name string, e *env) *pflag.FlagSet {
	fs := pflag.NewFlagSet("packctl "+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

func parseArgs(fs *pflag.FlagSet, args []string, want int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != want {
		return nil, fmt.Errorf("usage: %s %s", fs.Name(), usage)
	}
	return fs.Args(), nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func runToken(_ context.Context, e *env, args []string) error {
	fs := newFlags("token", e)
	secret := fs.String("secret", envOr("PREARRIVAL_TOKEN_SECRET", "prearrival-dev-secret"), "signing secret shared with the API")
	subject := fs.String("sub", "dev-user", "user id")
	name := fs.String("name", "", "display name")
	caps := fs.StringSlice("cap", []string{"prearrival:upload"}, "capability to grant (repeatable)")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if _, err := parseArgs(fs, args, 0, ""); err != nil {
		return err
	}
	token, err := auth.Mint([]byte(*secret), *subject, *name, *caps, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(e.stdout, token)
	return err
}

func runSession(ctx context.Context, e *env, args []string) error {
	if _, err := parseArgs(newFlags("session", e), args, 0, ""); err != nil {
		return err
	}
	session, err := e.client().Session(ctx)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, session)
}

func runStatus(ctx context.Context, e *env, args []string) error {
	fs := newFlags("status", e)
	readOnly := fs.Bool("read-only", false, "show only approved documents")
	status := fs.String("status", "", "filter: all, approved, rejected, pending")
	rest, err := parseArgs(fs, args, 1, "REQUEST")
	if err != nil {
		return err
	}
	view, err := e.client().GetRequest(ctx, rest[0], *readOnly, *status)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s  %s -> %s\n", view.Request.ID, view.Request.VesselName, view.Request.PortName)
	for _, doc := range view.Documents {
		line := fmt.Sprintf("  %-24s %-6s %-15s", doc.Definition.ID, doc.Definition.Owner, doc.Record.Status)
		if doc.Record.FileName != "" {
			line += " " + doc.Record.FileName
		}
		if doc.Record.RejectionReason != "" {
			line += " (" + doc.Record.RejectionReason + ")"
		}
		fmt.Fprintln(e.stdout, line)
	}
	if view.Complete {
		fmt.Fprintln(e.stdout, "all documents approved")
	}
	return nil
}

func runUpload(ctx context.Context, e *env, args []string) error {
	fs := newFlags("upload", e)
	note := fs.String("note", "", "note to attach with the file")
	rest, err := parseArgs(fs, args, 3, "REQUEST DOC FILE")
	if err != nil {
		return err
	}
	f, err := os.Open(rest[2])
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := checklist.CheckUploadSize(info.Size()); err != nil {
		return err
	}
	rec, err := e.client().Upload(ctx, rest[0], rest[1], *note, filepath.Base(rest[2]), f)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, rec)
}

// runNote shows the note immediately through the optimistic coordinator and
// reverts to the stored record if the server refuses it.
func runNote(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs(newFlags("note", e), args, 3, "REQUEST DOC TEXT")
	if err != nil {
		return err
	}
	requestID, docID, text := rest[0], rest[1], rest[2]
	c := e.client()
	session, err := c.Session(ctx)
	if err != nil {
		return err
	}
	view, err := c.GetRequest(ctx, requestID, false, "")
	if err != nil {
		return err
	}
	if _, ok := view.Definition(docID); !ok {
		return fmt.Errorf("document %q is not visible on %s", docID, requestID)
	}

	coord := optimistic.New(view.Records(), func(doc string, err error) {
		fmt.Fprintf(e.stderr, "note on %s reverted: %v\n", doc, err)
	})
	done, err := coord.Run(ctx, docID,
		func(rec checklist.Record) (checklist.Record, error) {
			return checklist.Annotate(rec, text, session.Party, e.now().UTC())
		},
		func(ctx context.Context, _ checklist.Record) (checklist.Record, error) {
			return c.Annotate(ctx, requestID, docID, text)
		})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "note: %s (saving)\n", coord.View(docID).Note)
	outcome := <-done
	if outcome.Err != nil {
		return outcome.Err
	}
	return printJSON(e.stdout, outcome.Record)
}

func runApprove(ctx context.Context, e *env, args []string) error {
	rest, err := parseArgs(newFlags("approve", e), args, 2, "REQUEST DOC")
	if err != nil {
		return err
	}
	rec, err := e.client().Verify(ctx, rest[0], rest[1], checklist.StatusApproved, "")
	if err != nil {
		return err
	}
	return printJSON(e.stdout, rec)
}

func runReject(ctx context.Context, e *env, args []string) error {
	fs := newFlags("reject", e)
	reason := fs.String("reason", "", "why the document is rejected (required)")
	rest, err := parseArgs(fs, args, 2, "REQUEST DOC --reason TEXT")
	if err != nil {
		return err
	}
	if strings.TrimSpace(*reason) == "" {
		return errors.New("--reason is required")
	}
	rec, err := e.client().Verify(ctx, rest[0], rest[1], checklist.StatusRejected, *reason)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, rec)
}

func runDownload(ctx context.Context, e *env, args []string) error {
	fs := newFlags("download", e)
	output := fs.StringP("output", "o", "", "where to write the zip (default: server file name)")
	rest, err := parseArgs(fs, args, 1, "REQUEST")
	if err != nil {
		return err
	}
	p, err := e.client().DownloadPack(ctx, rest[0])
	if err != nil {
		return err
	}
	path := *output
	if path == "" {
		path = p.Name
	}
	if path == "" {
		path = pack.RootFolder(rest[0]) + ".zip"
	}
	if err := os.WriteFile(path, p.Data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%s: %d files, %d skipped, blake3 %s\n", path, p.Files, p.Skipped, p.Checksum)
	return nil
}

func runShare(ctx context.Context, e *env, args []string) error {
	fs := newFlags("share", e)
	emails := fs.StringSlice("email", nil, "also mail the link to this address (repeatable)")
	rest, err := parseArgs(fs, args, 1, "REQUEST")
	if err != nil {
		return err
	}
	res, err := e.client().Share(ctx, rest[0], *emails)
	if err != nil {
		return err
	}
	return printJSON(e.stdout, res)
}

// runBuildLocal fetches the approved files with the caller's token, zips them
// here and uploads just the archive.
func runBuildLocal(ctx context.Context, e *env, args []string) error {
	fs := newFlags("build-local", e)
	concurrency := fs.Int("concurrency", 4, "parallel file fetches")
	keep := fs.String("keep", "", "also write the archive to this path")
	verbose := fs.BoolP("verbose", "v", false, "log each fetch")
	rest, err := parseArgs(fs, args, 1, "REQUEST")
	if err != nil {
		return err
	}
	requestID := rest[0]
	c := e.client()
	view, err := c.GetRequest(ctx, requestID, false, "")
	if err != nil {
		return err
	}
	defs := make([]catalog.Definition, 0, len(view.Documents))
	for _, doc := range view.Documents {
		defs = append(defs, doc.Definition)
	}
	cat, err := catalog.New(defs)
	if err != nil {
		return err
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	assembler := &pack.Assembler{
		Fetcher:      c.Fetcher(checklist.MaxUploadBytes),
		Uploader:     c,
		Now:          func() time.Time { return e.now().UTC() },
		Logger:       logger.New(logger.Config{Level: level, Pretty: true, Output: e.stderr}),
		Concurrency:  *concurrency,
		FetchTimeout: 30 * time.Second,
	}
	archive, err := assembler.Build(ctx, requestID, cat, view.Records())
	if err != nil {
		return err
	}
	for _, skip := range archive.Skipped {
		fmt.Fprintf(e.stderr, "skipped %s: %s\n", skip.DefinitionID, skip.Reason)
	}
	if *keep != "" {
		if err := os.WriteFile(*keep, archive.Data, 0o644); err != nil {
			return err
		}
	}
	payload, err := assembler.Share(ctx, archive, pack.RequestMeta{
		RequestID:  view.Request.ID,
		VesselName: view.Request.VesselName,
		PortName:   view.Request.PortName,
	})
	if err != nil {
		return err
	}
	return printJSON(e.stdout, payload)
}

func runQueue(ctx context.Context, e *env, args []string) error {
	fs := newFlags("queue", e)
	text := fs.StringP("query", "q", "", "full-text query")
	status := fs.String("status", "pending_review", "comma-separated statuses")
	limit := fs.Int("limit", 20, "maximum results")
	if _, err := parseArgs(fs, args, 0, ""); err != nil {
		return err
	}
	resp, err := e.client().ReviewQueue(ctx, *text, *status, *limit)
	if err != nil {
		return err
	}
	for _, r := range resp.Results {
		fmt.Fprintf(e.stdout, "%-12s %-24s %-15s %s\n", r.RequestID, r.DocID, r.Status, r.VesselName)
	}
	fmt.Fprintf(e.stdout, "%d of %d (%s)\n", len(resp.Results), resp.Total, resp.Backend)
	return nil
}
