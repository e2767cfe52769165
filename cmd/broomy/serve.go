package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/broomy/broomy-core/apperror"
	"github.com/broomy/broomy-core/cli"
	"github.com/broomy/broomy-core/config"
	"github.com/broomy/broomy-core/events"
	"github.com/broomy/broomy-core/files"
	"github.com/broomy/broomy-core/git"
	"github.com/broomy/broomy-core/handlers"
	"github.com/broomy/broomy-core/ipc"
	"github.com/broomy/broomy-core/logger"
	"github.com/broomy/broomy-core/paths"
	"github.com/broomy/broomy-core/session"
	"github.com/broomy/broomy-core/terminal"
)

var foreground bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon",
	Long: `Runs the Broomy daemon in the foreground until interrupted.

The daemon listens on a Unix socket, polls session branches for git and PR
state, and owns the terminals the app opens.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&foreground, "foreground", false, "Mirror log output to stderr")
	rootCmd.AddCommand(serveCmd)
}

// daemon is the set of running services behind one socket.
type daemon struct {
	settings  config.Settings
	profileID string

	store     *config.Store
	bus       *events.Bus
	errors    *apperror.Log
	watcher   *files.Watcher
	terminals *terminal.Manager
	poller    *session.Poller
	server    *ipc.Server
}

// resolveProfile picks the profile from settings, falling back to the last
// used one.
func resolveProfile(s config.Settings) (string, *config.Profiles, error) {
	indexPath, err := paths.ProfilesIndexPath()
	if err != nil {
		return "", nil, err
	}
	profiles, err := config.LoadProfiles(indexPath)
	if err != nil {
		return "", nil, fmt.Errorf("error loading profiles: %w", err)
	}
	id := s.Profile
	if id == "" {
		id = profiles.Last()
	}
	if profiles.Get(id) == nil {
		return "", nil, fmt.Errorf("unknown profile: %s", id)
	}
	return id, profiles, nil
}

// startDaemon loads the profile config, wires the services and starts
// serving on the settings' socket.
func startDaemon(ctx context.Context, s config.Settings) (*daemon, error) {
	log := logger.WithComponent("daemon")

	profileID, profiles, err := resolveProfile(s)
	if err != nil {
		return nil, err
	}
	configPath, err := paths.ProfileConfigPath(profileID, s.Dev)
	if err != nil {
		return nil, err
	}

	d := &daemon{
		settings:  s,
		profileID: profileID,
		store:     config.NewStore(configPath, s.SaveDebounce),
		bus:       events.NewBus(),
		errors:    apperror.NewLog(),
	}
	cfg, err := d.store.Load()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	d.store.OnError(func(err error) {
		d.errors.Record(err, "")
	})

	gitSvc := git.NewGitService()
	d.watcher = files.NewWatcher(d.bus, 0)
	d.terminals = terminal.NewManager(d.bus, terminal.WithShell(s.PTYShell), terminal.WithTranscripts(s.Debug))
	sessions := session.NewSessionService(session.Options{
		Config:       cfg,
		Store:        d.store,
		ProfileID:    profileID,
		WorktreesDir: s.WorktreesDir,
	})
	d.poller = session.NewPoller(gitSvc, cfg, d.store, d.bus, session.PollerOptions{
		Interval:   s.PollInterval,
		PRInterval: s.PRPollInterval,
	})

	router := ipc.NewRouter()
	handlers.Register(router, handlers.Deps{
		Config:    cfg,
		Store:     d.store,
		Profiles:  profiles,
		ProfileID: profileID,
		Settings:  s,
		Version:   buildVersion,
		Git:       gitSvc,
		Files:     files.NewService(s.MaxFileSize),
		Watcher:   d.watcher,
		Terminals: d.terminals,
		Sessions:  sessions,
		Poller:    d.poller,
		Errors:    d.errors,
	})

	d.server, err = ipc.NewServer(s.SocketPath, router, ipc.WithEventBus(d.bus), ipc.WithErrorLog(d.errors))
	if err != nil {
		d.closeServices()
		return nil, err
	}
	d.server.Start()
	d.server.WaitReady()
	d.poller.Start(ctx)

	log.Info("daemon started",
		"profile", profileID,
		"config", configPath,
		"socket", s.SocketPath,
		"channels", len(router.Channels()))
	return d, nil
}

// Close stops serving and releases every service, flushing pending config
// writes last.
func (d *daemon) Close() error {
	d.poller.Stop()
	err := d.server.Close()
	d.closeServices()
	logger.WithComponent("daemon").Info("daemon stopped")
	return err
}

func (d *daemon) closeServices() {
	log := logger.WithComponent("daemon")
	d.terminals.CloseAll()
	d.watcher.Close()
	if err := d.store.Close(); err != nil {
		log.Error("failed to flush config", "error", err)
	}
	d.bus.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}

	logPath, err := logger.DefaultLogPath()
	if err != nil {
		return err
	}
	var logOpts []logger.Option
	if foreground {
		logOpts = append(logOpts, logger.WithMirror(os.Stderr))
	}
	if err := logger.Init(logPath, logOpts...); err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}
	defer logger.Close()
	logger.SetDebug(s.Debug)

	if err := cli.ValidateRequired(cli.DefaultPrerequisites()); err != nil {
		return fmt.Errorf("%v\n\nInstall required tools and try again", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := startDaemon(ctx, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "broomy listening on %s (profile %s)\n", s.SocketPath, d.profileID)

	<-ctx.Done()
	return d.Close()
}
