package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pliu/bizdir/internal/access"
	"github.com/pliu/bizdir/internal/api"
	"github.com/pliu/bizdir/internal/config"
	"github.com/pliu/bizdir/internal/gateway"
	"github.com/pliu/bizdir/internal/localstore"
	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/query"
	"github.com/pliu/bizdir/internal/session"
	"github.com/spf13/cobra"
)

// offline marks commands that must not contact the API on start-up.
const offline = "offline"

// app is the wiring shared by every command.
type app struct {
	cfgPath string

	in    io.Reader
	out   io.Writer
	err   io.Writer
	lines *bufio.Reader

	cfg     *config.Client
	store   *localstore.Store
	gateway *gateway.Client
	api     *api.Client
	session *session.Session
}

func (a *app) open(cmd *cobra.Command) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading .env: %w", err)
	}
	if a.cfgPath == "" {
		a.cfgPath = filepath.Join(config.DefaultDir(), "config.yaml")
	}
	cfg, err := config.LoadClient(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	log := logging.New("bizdir", cfg.Logging.Level, cfg.Logging.Format, a.err)
	cmd.SetContext(logging.WithContext(cmd.Context(), log))

	a.store, err = localstore.Open(cfg.Storage.Path, cfg.Storage.KeyFile)
	if err != nil {
		return fmt.Errorf("opening local storage: %w", err)
	}

	a.session = session.New(a.store)
	a.gateway, err = gateway.New(cfg.APIBaseURL,
		gateway.WithTimeout(cfg.RequestTimeout),
		gateway.WithCredentials(gateway.CredentialsFunc(a.session.Token)),
		gateway.WithNotifier(&gateway.WriterNotifier{W: a.err}),
	)
	if err != nil {
		return err
	}
	cache := query.NewCache()
	a.api = api.New(a.gateway, cache)
	a.session.Bind(a.api, cache)
	if cmd.Annotations[offline] != "" {
		return nil
	}
	return a.session.Init(cmd.Context())
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// gate refuses to run a command whose view the session may not see.
func (a *app) gate(view access.View) error {
	d := access.Check(view, a.session)
	if d.Allow {
		return nil
	}
	switch d.Redirect {
	case access.RouteBusinessRegister:
		return fmt.Errorf("%s needs a registered business; run `bizdir business register` first", view)
	case "":
		return fmt.Errorf("%s is not available yet", view)
	}
	if !a.session.LoggedIn() {
		return fmt.Errorf("%s needs you to sign in; run `bizdir login`", view)
	}
	return fmt.Errorf("%s is not available to your account", view)
}

func (a *app) readLine() (string, error) {
	if a.lines == nil {
		a.lines = bufio.NewReader(a.in)
	}
	line, err := a.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// requireLogin is the gate for actions that only need a signed-in user.
func (a *app) requireLogin() error {
	if !a.session.LoggedIn() {
		return errors.New("sign in first; run `bizdir login`")
	}
	return nil
}

func newRootCmd(in io.Reader, out, errw io.Writer) *cobra.Command {
	a := &app{in: in, out: out, err: errw}
	root := &cobra.Command{
		Use:           "bizdir",
		Short:         "Browse local businesses, manage listings and chat with owners",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errw)
	root.SetContext(context.Background())
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default ~/.bizdir/config.yaml)")

	root.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newBusinessCmd(a),
		newAdminCmd(a),
		newCommentCmd(a),
		newChatCmd(a),
		newConfigCmd(a),
	)
	return root
}
