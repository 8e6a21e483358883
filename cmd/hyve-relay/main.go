// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/tevino/abool"

	"github.com/hyvehq/relay-agent/internal/agent"
	"github.com/hyvehq/relay-agent/internal/channels/imessage"
	"github.com/hyvehq/relay-agent/internal/channels/signald"
	"github.com/hyvehq/relay-agent/internal/channels/whatsapp"
	"github.com/hyvehq/relay-agent/internal/statusapi"
	"github.com/hyvehq/relay-agent/pkg/backend/http"
	"github.com/hyvehq/relay-agent/pkg/backend/relayapi"
	"github.com/hyvehq/relay-agent/pkg/channel"
	"github.com/hyvehq/relay-agent/pkg/channel/binpath"
	"github.com/hyvehq/relay-agent/pkg/config"
	"github.com/hyvehq/relay-agent/pkg/helpers/recover"
	wlog "github.com/hyvehq/relay-agent/pkg/log"
)

// Exit codes, stable for scripting around the binary: 0 graceful, 1 general
// failure, 2 invalid configuration or usage, 3 channel or helper binary not
// available, 4 unauthorized or revoked, 130 interrupted by signal.
const (
	exitOK           = 0
	exitError        = 1
	exitBadConfig    = 2
	exitNotFound     = 3
	exitUnauthorized = 4
	exitSignal       = 130
)

var (
	configDir    string
	setupChannel string
	setupLabel   string
	doLogin      bool
	doLogout     bool
	revokeReason string
	verbose      bool
	showVersion  bool

	buildVersion = "development"
	gitCommit    = ""
	buildDate    = ""
)

func init() {
	flag.StringVar(&configDir, "config", "", "Overrides the default agent directory (~/.hyve-relay)")
	flag.StringVar(&setupChannel, "setup", "", "Activate this relay for the given channel (whatsapp, signal, imessage) and exit")
	flag.StringVar(&setupLabel, "label", "", "Human-readable label for this relay, used with -setup")
	flag.BoolVar(&doLogin, "login", false, "Run the interactive platform pairing flow and exit")
	flag.BoolVar(&doLogout, "logout", false, "Wipe the local platform credentials and exit")
	flag.StringVar(&revokeReason, "revoke", "", "Revoke this relay with the cloud, stating the given reason, and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging. Overrides the configured level")
	flag.BoolVar(&showVersion, "version", false, "Show version details and exit")
}

var alog = wlog.WithComponent("HyveRelayAgent")

func main() {
	flag.Parse()

	defer recover.PanicHandler(recover.LogAndFail)

	if showVersion {
		fmt.Printf("Hyve Relay Agent version: %s, GoVersion: %s, GitCommit: %s, BuildDate: %s\n",
			buildVersion, runtime.Version(), gitCommit, buildDate)
		os.Exit(exitOK)
	}

	// SIGQUIT dumps every goroutine without killing the process.
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGQUIT)
		for {
			<-sigs
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			alog.Info(fmt.Sprintf("== SIGQUIT RECEIVED ==\n** goroutine dump begin **\n%s\n** goroutine dump end **", buf[:n]))
		}
	}()

	if configDir != "" {
		if err := os.Setenv("HYVE_RELAY_DIR", configDir); err != nil {
			fmt.Fprintf(os.Stderr, "unable to apply -config: %v\n", err)
			os.Exit(exitBadConfig)
		}
	}

	cfg := config.LoadConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	configureLogging(cfg)

	if err := cfg.Validate(); err != nil {
		alog.WithError(err).Error("Refusing to start with an invalid configuration.")
		os.Exit(exitBadConfig)
	}

	registry := channel.NewRegistry()
	registerChannels(registry)

	httpClient := http.GetHttpClient(http.ClientTimeout, http.DefaultTransport())
	client := relayapi.NewClient(cfg.Server.BaseURL, userAgent(), httpClient.Do)
	supervisor := agent.NewSupervisor(cfg, client, registry, buildVersion)

	ctx, cancel := context.WithCancel(context.Background())
	interrupted := watchInterrupts(cancel)

	code := run(ctx, cfg, registry, supervisor)
	if code == exitOK && interrupted.IsSet() {
		code = exitSignal
	}
	os.Exit(code)
}

// run executes exactly one of the one-shot actions, or the steady-state
// daemon when none was requested.
func run(ctx context.Context, cfg *config.Config, registry *channel.Registry, supervisor *agent.Supervisor) int {
	switch {
	case setupChannel != "":
		if err := supervisor.Setup(ctx, setupChannel, setupLabel); err != nil {
			alog.WithError(err).Error("Setup failed.")
			return exitError
		}
		fmt.Println("Relay activated. Run with -login to pair the platform account, then start the agent.")
		return exitOK

	case doLogin:
		plugin, code := resolvePlugin(cfg, registry)
		if plugin == nil {
			return code
		}
		if err := plugin.Login(ctx); err != nil {
			alog.WithError(err).Error("Login failed.")
			var nErr *binpath.NotInstalledError
			if errors.As(err, &nErr) {
				return exitNotFound
			}
			return exitError
		}
		fmt.Printf("%s account paired.\n", plugin.DisplayName())
		return exitOK

	case doLogout:
		plugin, code := resolvePlugin(cfg, registry)
		if plugin == nil {
			return code
		}
		if err := plugin.Logout(ctx); err != nil {
			alog.WithError(err).Error("Logout failed.")
			return exitError
		}
		fmt.Printf("%s credentials wiped.\n", plugin.DisplayName())
		return exitOK

	case revokeReason != "":
		if err := supervisor.Revoke(ctx, revokeReason); err != nil {
			alog.WithError(err).Error("Revoke finished with errors.")
			return exitError
		}
		fmt.Println("Relay revoked.")
		return exitOK

	default:
		return runDaemon(ctx, cfg, supervisor)
	}
}

func runDaemon(ctx context.Context, cfg *config.Config, supervisor *agent.Supervisor) int {
	if cfg.Status.Port > 0 {
		server := statusapi.NewServer(cfg, supervisor, buildVersion)
		go recover.FuncWithPanicHandler(recover.LogAndContinue, func() {
			if err := server.Serve(ctx); err != nil {
				alog.WithError(err).Warn("Status API stopped.")
			}
		})
	}

	err := supervisor.Run(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, agent.ErrDeviceRevoked):
		alog.Error("This relay was revoked. Run -setup to enroll again.")
		return exitUnauthorized
	case errors.Is(err, agent.ErrNotActivated):
		alog.Error("This relay is not activated. Run -setup first.")
		return exitBadConfig
	default:
		var uErr *channel.UnsupportedError
		if errors.As(err, &uErr) {
			alog.WithError(err).Error("Channel not supported on this host.")
			return exitNotFound
		}
		var aErr *channel.NotAuthenticatedError
		if errors.As(err, &aErr) {
			alog.WithError(err).Error("Channel not authenticated. Run -login first.")
			return exitUnauthorized
		}
		alog.WithError(err).Error("Agent run returned an error.")
		return exitError
	}
}

// resolvePlugin loads the adapter for the configured channel for the login and
// logout one-shots.
func resolvePlugin(cfg *config.Config, registry *channel.Registry) (channel.Plugin, int) {
	if cfg.Channel == "" {
		alog.Error("No channel configured. Run -setup first.")
		return nil, exitBadConfig
	}
	plugin, err := registry.Get(cfg.Channel)
	if err != nil {
		alog.WithError(err).Error("Unable to load the channel adapter.")
		return nil, exitError
	}
	if ok, reason := plugin.Supported(); !ok {
		alog.WithField("reason", reason).Error("Channel not supported on this host.")
		return nil, exitNotFound
	}
	return plugin, exitOK
}

func userAgent() string {
	return fmt.Sprintf("HyveRelayAgent/%s (%s; %s)", buildVersion, runtime.GOOS, runtime.GOARCH)
}

func registerChannels(registry *channel.Registry) {
	registry.Register(config.ChannelWhatsApp, func() (channel.Plugin, error) {
		dir, err := config.ChannelDir(config.ChannelWhatsApp)
		if err != nil {
			return nil, err
		}
		return whatsapp.New(dir), nil
	})
	registry.Register(config.ChannelSignal, func() (channel.Plugin, error) {
		dir, err := config.ChannelDir(config.ChannelSignal)
		if err != nil {
			return nil, err
		}
		return signald.New(dir), nil
	})
	registry.Register(config.ChannelIMessage, func() (channel.Plugin, error) {
		return imessage.New()
	})
}

func configureLogging(cfg *config.Config) {
	wlog.SetLevel(wlog.ParseLevel(cfg.Logging.Level))

	if cfg.Logging.File == "" {
		return
	}
	maxSize := cfg.Logging.RotateMb * 1024 * 1024
	sink, err := wlog.NewFileWithRotation(wlog.FileWithRotationConfig{
		File:           cfg.Logging.File,
		MaxSizeInBytes: maxSize,
	}).Open()
	if err != nil {
		alog.WithError(err).Warn("Unable to open the log file, logging to stderr only.")
		return
	}
	wlog.SetOutput(wlog.NewStderrTeeLogger(sink, true))
}

// watchInterrupts cancels the run context on the first SIGINT or SIGTERM and
// force-exits on the second.
func watchInterrupts(cancel context.CancelFunc) *abool.AtomicBool {
	flagged := abool.New()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		alog.Info("Shutdown signal received, draining.")
		flagged.Set()
		cancel()
		<-sigs
		alog.Warn("Second shutdown signal, exiting immediately.")
		os.Exit(exitSignal)
	}()
	return flagged
}
