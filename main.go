package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomaslejdung/sharescreen/pkg/controller"
	"github.com/tomaslejdung/sharescreen/pkg/logging"
	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
	"github.com/tomaslejdung/sharescreen/pkg/settings"
	sig "github.com/tomaslejdung/sharescreen/pkg/signal"
)

// Version is set at build time
var Version = "dev"

// debugLogFile receives logs while the terminal UI owns the screen
const debugLogFile = "sharescreen-debug.log"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	configFile string
	cfg        Config
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sharescreen",
		Short: "Share a screen with a small group, one sharer at a time",
		Long: `sharescreen - screen sharing for small sessions

Everyone in a channel sees who is present and who is sharing. Only one
participant shares at a time; a request while someone else shares is
refused. Without --server the session is hosted in-process and others can
join with --server pointing at this machine.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
		RunE:              a.runJoin,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file path")
	flags.Bool("dev", false, "development mode")
	flags.String("log-file", "", "write logs to this file")

	registerJoinFlags(root.Flags())

	root.AddCommand(a.serveCommand(), a.profilesCommand())
	return root
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	v, err := newViper(a.configFile)
	if err != nil {
		return err
	}
	bindFlags(v, cmd.Flags())
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) logger(tui bool) (*zap.Logger, error) {
	file := a.cfg.LogFile
	if tui && file == "" {
		file = debugLogFile
	}
	return logging.New(logging.Options{Dev: a.cfg.Dev, File: file, Service: "sharescreen"})
}

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run only the session server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := a.logger(false)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return sig.NewServer(logger.Named("server")).StartServer(ctx, a.cfg.Listen)
		},
	}
	cmd.Flags().String("listen", DefaultListenAddr, "address to serve on")
	return cmd
}

func (a *app) profilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List capture profiles",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			def := media.DefaultProfile().Name
			for _, p := range media.Profiles {
				marker := " "
				if p.Name == def {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-9s %4dx%-4d @%-2d %-4s %-14s %s\n",
					marker, p.Name, p.Width, p.Height, p.FrameRate, p.Codec,
					strings.Join(p.Aliases, ","), p.Description)
			}
		},
	}
}

func (a *app) runJoin(cmd *cobra.Command, _ []string) error {
	cfg := a.cfg
	logger, err := a.logger(!cfg.Headless)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := settings.NewManager()
	if err != nil {
		logger.Warn("user settings unavailable", zap.Error(err))
		store = nil
	}
	saved := settings.DefaultSettings()
	if store != nil {
		if saved, err = store.Load(); err != nil {
			logger.Warn("failed to load user settings", zap.String("path", store.Path()), zap.Error(err))
		}
	}

	params := cfg.LaunchParams().Resolve(saved)
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid launch parameters: %w", err)
	}
	profile, _ := media.ProfileByName(params.Profile)

	replica := session.NewReplica(nil)
	var conn *sig.Conn
	joinURL := cfg.Server
	if cfg.Server == "" {
		server := sig.NewServer(logger.Named("server"))
		go func() {
			if err := server.StartServer(ctx, cfg.Listen); err != nil {
				logger.Error("session server stopped", zap.Error(err))
			}
		}()
		conn, err = sig.NewLocalConn(server, params.Channel, params.Member(), replica, logger.Named("conn"))
		joinURL = hostURL(cfg.Listen)
	} else {
		conn, err = sig.Dial(ctx, cfg.Server, params.Channel, params.Member(), replica, logger.Named("conn"))
	}
	if err != nil {
		return fmt.Errorf("failed to join %s: %w", params.Channel, err)
	}

	transport := media.NewPeerTransport(conn, cfg.Capture(), cfg.ICE(), logger.Named("media"))
	ctrlCfg := controller.Config{
		AppID:            cfg.AppID,
		Token:            cfg.Token,
		Profile:          profile,
		GrantTimeout:     cfg.GrantTimeout,
		SubscribeTimeout: cfg.SubscribeTimeout,
	}

	if cfg.Headless {
		ctrl := controller.New(conn, transport, &logUI{logger: logger.Named("ui")}, ctrlCfg, logger.Named("controller"))
		return runHeadless(ctx, ctrl, cfg.Share, conn.Done(), conn.Err, logger)
	}

	ui := &teaUI{}
	ctrl := controller.New(conn, transport, ui, ctrlCfg, logger.Named("controller"))
	m := newModel(ctrl, replica, conn.ParticipantID(), conn.Room(), profile.Name)
	m.joinURL = joinURL
	if store != nil {
		m.onProfile = func(name string) {
			saved := params.Remember(store.Settings())
			saved.Profile = name
			if err := store.Save(saved); err != nil {
				logger.Warn("failed to save user settings", zap.Error(err))
			}
		}
	}
	m.autoShare = cfg.Share
	return RunTUI(ctx, ctrl, ui, m, conn.Done(), conn.Err)
}

// hostURL is the address others pass as --server to join a hosted session
func hostURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if name, err := os.Hostname(); err == nil {
			host = name
		} else {
			host = "localhost"
		}
	}
	return "http://" + net.JoinHostPort(host, port)
}
