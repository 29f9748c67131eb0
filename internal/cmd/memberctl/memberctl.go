// Package memberctl implements the memberctl command line interface.
package memberctl

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/louisbranch/memberkit/internal/api"
	"github.com/louisbranch/memberkit/internal/authstate"
	"github.com/louisbranch/memberkit/internal/guard"
	"github.com/louisbranch/memberkit/internal/member"
	"github.com/louisbranch/memberkit/internal/platform/config"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/bootstrap"
	"github.com/louisbranch/memberkit/internal/session/store"
	"github.com/louisbranch/memberkit/internal/transport"
)

const usage = `usage: memberctl [flags] <command> [args]

Commands:
  login     -email <addr> [-password <pw>]   sign in and store the session
  signup    -email <addr> [-password <pw>] [-name <display>]
  logout                                     revoke and clear the session
  status                                     show the stored session
  profile   [-email <addr>] [-name <display>]
  sessions                                   list active sessions
  revoke    [-id <sessionId>] [-all]         revoke a session
  watch                                      supervise the session until interrupted
`

// Config holds memberctl configuration.
type Config struct {
	APIBaseURL string
	StorePath  string
	Timeout    time.Duration

	InactivityTimeout  time.Duration
	ExpiryPollInterval time.Duration
	WatchInterval      time.Duration

	Command string
	Args    []string

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// EnvLookup returns the value for a key when present.
type EnvLookup func(string) (string, bool)

// ParseConfig parses flags into a Config. Flag values override environment
// variables, which override defaults.
func ParseConfig(fs *flag.FlagSet, args []string, lookup EnvLookup) (Config, error) {
	envCfg, err := config.ParseLookup(lookup)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIBaseURL:         envCfg.APIBaseURL,
		StorePath:          envCfg.StorePath,
		Timeout:            envCfg.HTTPTimeout,
		InactivityTimeout:  envCfg.InactivityTimeout,
		ExpiryPollInterval: envCfg.ExpiryPollInterval,
		WatchInterval:      envCfg.WatchInterval,
		Stdout:             os.Stdout,
		Stderr:             os.Stderr,
		Stdin:              os.Stdin,
	}

	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "member API base URL")
	fs.StringVar(&cfg.StorePath, "store", cfg.StorePath, "durable session store path")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return Config{}, fmt.Errorf("missing command\n\n%s", usage)
	}
	cfg.Command = rest[0]
	cfg.Args = rest[1:]

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return Config{}, fmt.Errorf("an API base URL is required (-api or MEMBERKIT_API_BASE_URL)")
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg, nil
}

// Run executes the parsed command.
func Run(ctx context.Context, cfg Config) error {
	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.close()

	switch cfg.Command {
	case "login":
		return app.login(ctx, cfg.Args)
	case "signup":
		return app.signup(ctx, cfg.Args)
	case "logout":
		return app.logoutCmd(ctx)
	case "status":
		return app.status(ctx)
	case "profile":
		return app.profile(ctx, cfg.Args)
	case "sessions":
		return app.sessions(ctx)
	case "revoke":
		return app.revoke(ctx, cfg.Args)
	case "watch":
		return app.watch(ctx)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cfg.Command, usage)
	}
}

// app wires the SDK stack for one invocation.
type app struct {
	cfg     Config
	store   *store.Store
	durable *store.SQLiteTier
	machine *authstate.Machine
	client  *api.Client
	manager *member.Manager
	boot    *bootstrap.Bootstrapper
}

func newApp(cfg Config) (*app, error) {
	path := cfg.StorePath
	if strings.TrimSpace(path) == "" {
		resolved, err := config.DefaultStorePath()
		if err != nil {
			return nil, fmt.Errorf("resolve store path: %w", err)
		}
		path = resolved
	}

	durable, err := store.OpenSQLiteTier(path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	machine := authstate.New()
	sessions := store.New(store.NewMemoryTier(), durable, time.Now)

	// The refresher must bypass the interceptor so a failed refresh cannot
	// recurse into another refresh.
	plain := api.New(cfg.APIBaseURL, &http.Client{Timeout: cfg.Timeout})
	authed := api.New(cfg.APIBaseURL, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport.New(nil, sessions, plain),
	})

	a := &app{
		cfg:     cfg,
		store:   sessions,
		durable: durable,
		machine: machine,
		client:  authed,
		manager: member.New(authed, sessions, machine,
			member.WithPollInterval(cfg.ExpiryPollInterval)),
	}
	a.boot = bootstrap.New(sessions, machine, authed)
	return a, nil
}

func (a *app) close() {
	a.boot.Close()
	if err := a.durable.Close(); err != nil {
		fmt.Fprintf(a.cfg.Stderr, "close session store: %v\n", err)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	creds, err := a.credentials(*email, *password)
	if err != nil {
		return err
	}
	if err := a.manager.Login(ctx, creds); err != nil {
		return err
	}
	state := a.machine.State()
	fmt.Fprintf(a.cfg.Stdout, "signed in as %s\n", describeUser(state.User))
	return nil
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	creds, err := a.credentials(*email, *password)
	if err != nil {
		return err
	}
	creds.DisplayName = strings.TrimSpace(*name)
	if err := a.manager.Signup(ctx, creds); err != nil {
		return err
	}
	fmt.Fprintf(a.cfg.Stdout, "account created for %s\n", describeUser(a.machine.State().User))
	return nil
}

func (a *app) logoutCmd(ctx context.Context) error {
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.cfg.Stdout, "signed out")
	return nil
}

func (a *app) status(ctx context.Context) error {
	rec, err := a.store.Read(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintln(a.cfg.Stdout, "not signed in")
		return nil
	}
	fmt.Fprintf(a.cfg.Stdout, "signed in as %s\n", describeUser(rec.User))
	fmt.Fprintf(a.cfg.Stdout, "session expires %s (%s from now)\n",
		rec.ExpiresAt.Format(time.RFC3339), time.Until(rec.ExpiresAt).Round(time.Second))
	return nil
}

func (a *app) profile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("profile", flag.ContinueOnError)
	email := fs.String("email", "", "new account email")
	name := fs.String("name", "", "new display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" && *name == "" {
		rec, err := a.store.Read(ctx)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("not signed in")
		}
		user, err := a.client.Profile(ctx, rec.Token)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.cfg.Stdout, "%s\n", describeUser(user))
		return nil
	}

	var patch session.UserPatch
	if *email != "" {
		patch.Email = email
	}
	if *name != "" {
		patch.DisplayName = name
	}
	rec, err := a.manager.UpdateProfile(ctx, patch)
	if rec != nil {
		fmt.Fprintf(a.cfg.Stdout, "profile updated: %s\n", describeUser(rec.User))
	}
	return err
}

func (a *app) sessions(ctx context.Context) error {
	rec, err := a.store.Read(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("not signed in")
	}
	remote, err := a.client.ListSessions(ctx, rec.Token)
	if err != nil {
		return err
	}
	if len(remote) == 0 {
		fmt.Fprintln(a.cfg.Stdout, "no active sessions")
		return nil
	}
	for _, s := range remote {
		marker := " "
		if s.IsCurrent {
			marker = "*"
		}
		fmt.Fprintf(a.cfg.Stdout, "%s %s  %s  %s  last active %s\n",
			marker, s.SessionID, s.DeviceName, s.IP, s.LastAccessedAt.Format(time.RFC3339))
	}
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	id := fs.String("id", "", "session id to revoke")
	all := fs.Bool("all", false, "revoke every session except the current one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" && !*all {
		return fmt.Errorf("revoke needs -id or -all")
	}

	rec, err := a.store.Read(ctx)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("not signed in")
	}
	if err := a.client.RevokeSession(ctx, rec.Token, *id, *all); err != nil {
		return err
	}
	fmt.Fprintln(a.cfg.Stdout, "revoked")
	return nil
}

// watch supervises the session until the context is cancelled, printing
// state transitions as they happen.
func (a *app) watch(ctx context.Context) error {
	g := guard.New(a.store, a.machine, a.boot, func(ctx context.Context) error {
		return a.manager.Logout(ctx)
	},
		guard.WithInactivityTimeout(a.cfg.InactivityTimeout),
		guard.WithWatchInterval(a.cfg.WatchInterval),
	)

	states, unsubscribe := a.machine.Subscribe()
	defer unsubscribe()

	go a.manager.RunExpiryPoll(ctx)
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	fmt.Fprintln(a.cfg.Stdout, "watching session (ctrl-c to stop)")
	for {
		select {
		case err := <-done:
			return err
		case state := <-states:
			fmt.Fprintf(a.cfg.Stdout, "%s %s", time.Now().Format(time.RFC3339), state.Status)
			if state.Status == authstate.StatusAuthenticated {
				fmt.Fprintf(a.cfg.Stdout, " as %s", describeUser(state.User))
			}
			if state.Err != nil {
				fmt.Fprintf(a.cfg.Stdout, " (%v)", state.Err)
			}
			fmt.Fprintln(a.cfg.Stdout)
		}
	}
}

func (a *app) credentials(email, password string) (api.Credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return api.Credentials{}, fmt.Errorf("an email is required (-email)")
	}
	if password == "" {
		fmt.Fprint(a.cfg.Stderr, "password: ")
		scanner := bufio.NewScanner(a.cfg.Stdin)
		if !scanner.Scan() {
			return api.Credentials{}, fmt.Errorf("read password: %w", scanner.Err())
		}
		password = strings.TrimSpace(scanner.Text())
	}
	if password == "" {
		return api.Credentials{}, fmt.Errorf("a password is required")
	}
	return api.Credentials{Email: email, Password: password}, nil
}

func describeUser(u session.User) string {
	if u.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", u.DisplayName, u.Email)
	}
	return u.Email
}
