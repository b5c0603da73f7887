package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"SendLater/internal/client"
	"SendLater/internal/csvparser"
)

const usage = `usage: sendlater <command> [flags]

commands:
  login     store a Gmail access token for your account
  logout    forget the stored token
  schedule  schedule a message (or a CSV mail merge) for later
  list      show your scheduled messages
  cancel    cancel a pending message by id
`

type app struct {
	cfgPath string
	cfg     *client.Config
	api     *client.Facade
	tokens  *client.TokenStore
	loc     *time.Location
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp()
	if err != nil {
		fail(err)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "login":
		err = a.login(args)
	case "logout":
		err = a.logout()
	case "schedule":
		err = a.schedule(ctx, args)
	case "list":
		err = a.list(ctx)
	case "cancel":
		err = a.cancel(ctx, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		fail(err)
	}
}

func newApp() (*app, error) {
	path := os.Getenv("SENDLATER_CONFIG")
	if path == "" {
		path = client.DefaultConfigPath()
	}

	cfg, err := client.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
		}
	}

	tokens, err := client.OpenTokenStore(filepath.Join(filepath.Dir(path), "credentials"), "sendlater-file-key")
	if err != nil {
		return nil, err
	}

	return &app{
		cfgPath: path,
		cfg:     cfg,
		api:     client.New(cfg.ServerURL),
		tokens:  tokens,
		loc:     loc,
	}, nil
}

func (a *app) user() (string, error) {
	if a.cfg.UserEmail == "" {
		return "", errors.New("no account configured; run `sendlater login --email you@gmail.com`")
	}
	return a.cfg.UserEmail, nil
}

func (a *app) login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	userEmail := fs.String("email", a.cfg.UserEmail, "your Gmail address")
	server := fs.String("server", a.cfg.ServerURL, "scheduling API base URL")
	fs.Parse(args)

	if *userEmail == "" {
		return errors.New("--email is required")
	}

	fmt.Fprint(os.Stderr, "Paste a Gmail access token (gmail.send scope): ")
	token, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && token == "" {
		return fmt.Errorf("reading token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}

	if err := a.tokens.Set(*userEmail, token); err != nil {
		return err
	}

	a.cfg.UserEmail = *userEmail
	a.cfg.ServerURL = *server
	if err := client.SaveConfig(a.cfgPath, a.cfg); err != nil {
		return err
	}

	fmt.Println(okStyle.Render("Logged in as " + *userEmail))
	return nil
}

func (a *app) logout() error {
	user, err := a.user()
	if err != nil {
		return err
	}
	if err := a.tokens.Delete(user); err != nil {
		return err
	}
	fmt.Println(okStyle.Render("Token removed for " + user))
	return nil
}

func (a *app) schedule(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	to := fs.String("to", "", "recipient address")
	subject := fs.String("subject", "", "subject line; {{Column}} placeholders are filled from --csv")
	body := fs.String("body", "", "message body; use @file to read it from a file")
	at := fs.String("at", "", `send time, RFC 3339 or "2006-01-02 15:04" in your timezone`)
	preset := fs.String("preset", "", "named send time: "+strings.Join(client.Presets(), ", "))
	clock := fs.String("clock", "", "override the time of day (HH:MM) of --preset")
	csvPath := fs.String("csv", "", "recipient CSV with an Email column for a mail merge")
	fs.Parse(args)

	user, err := a.user()
	if err != nil {
		return err
	}
	token, err := a.tokens.Get(user)
	if err != nil {
		return err
	}

	when, err := a.sendTime(*at, *preset, *clock)
	if err != nil {
		return err
	}

	text, err := readBody(*body)
	if err != nil {
		return err
	}

	drafts := []csvparser.Draft{{To: *to, Subject: *subject, Body: text}}
	if *csvPath != "" {
		if drafts, err = loadMerge(*csvPath, *subject, text); err != nil {
			return err
		}
	} else if *to == "" {
		return errors.New("--to or --csv is required")
	}

	var failed int
	for _, d := range drafts {
		id, err := a.api.Schedule(ctx, client.Draft{
			To:            d.To,
			Subject:       d.Subject,
			Body:          d.Body,
			ScheduledTime: when,
		}, user, token)
		if err != nil {
			failed++
			fmt.Println(errStyle.Render(fmt.Sprintf("✗ %s: %v", d.To, err)))
			continue
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("✓ %s scheduled for %s", d.To, when.In(a.loc).Format(timeLayout))) +
			" " + dimStyle.Render(id))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d messages were not scheduled", failed, len(drafts))
	}
	return nil
}

func (a *app) sendTime(at, preset, clock string) (time.Time, error) {
	now := time.Now().In(a.loc)

	switch {
	case at != "" && preset != "":
		return time.Time{}, errors.New("use either --at or --preset, not both")
	case at != "":
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			return t, nil
		}
		t, err := time.ParseInLocation("2006-01-02 15:04", at, a.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("--at %q is neither RFC 3339 nor \"YYYY-MM-DD HH:MM\"", at)
		}
		return t, nil
	case preset != "":
		t, err := client.ResolvePreset(preset, now)
		if err != nil {
			return time.Time{}, err
		}
		if clock != "" {
			return client.AtClock(t, clock)
		}
		return t, nil
	}

	return time.Time{}, errors.New("--at or --preset is required")
}

func (a *app) list(ctx context.Context) error {
	user, err := a.user()
	if err != nil {
		return err
	}

	emails, err := a.api.Load(ctx, user)
	if err != nil {
		return err
	}

	fmt.Println(renderList(emails, a.loc))
	return nil
}

func (a *app) cancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("usage: sendlater cancel <id>")
	}

	user, err := a.user()
	if err != nil {
		return err
	}

	if _, err := a.api.Cancel(ctx, fs.Arg(0), user); err != nil {
		return fmt.Errorf("%w (only pending messages you own can be cancelled)", err)
	}

	fmt.Println(okStyle.Render("Cancelled " + fs.Arg(0)))
	return nil
}

func readBody(v string) (string, error) {
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}
	return string(b), nil
}

func loadMerge(path, subject, body string) ([]csvparser.Draft, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, skipped, err := csvparser.ParseRecipients(f, 0)
	for _, s := range skipped {
		fmt.Fprintln(os.Stderr, dimStyle.Render(fmt.Sprintf("skipping line %d: %s", s.Line, s.Reason)))
	}
	if err != nil {
		return nil, err
	}

	return csvparser.Render(rows, subject, body), nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errStyle.Render("error: "+err.Error()))
	os.Exit(1)
}
