// Command wepinctl inspects and drives the Wepin widget SDK from a host.
//
//	wepinctl [-config path] store dump [-reveal]
//	wepinctl [-config path] store wipe [-reset-install]
//	wepinctl [-config path] session status
//	wepinctl [-config path] relay [-nats] [-login]
//	wepinctl config init <path>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/WepinWallet/wepin-widget-sdk-go/config"
	"github.com/WepinWallet/wepin-widget-sdk-go/storage"
	"github.com/WepinWallet/wepin-widget-sdk-go/surface"
	"github.com/WepinWallet/wepin-widget-sdk-go/widget"
)

// Version is set at build time
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	logLevel := flag.String("log-level", "", "Log level (overrides config)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	if args[0] == "config" {
		os.Exit(runConfig(args[1:]))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	setupLogging(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var code int
	switch args[0] {
	case "store":
		code = runStore(ctx, cfg, args[1:])
	case "session":
		code = runSession(ctx, cfg, args[1:])
	case "relay":
		code = runRelay(ctx, cfg, args[1:])
	default:
		usage()
		code = 2
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wepinctl [-config path] [-log-level level] <command>

Commands:
  store dump [-reveal]   list stored keys (and values with -reveal)
  store wipe [-reset-install]
                         delete every stored entry
  session status         reconcile the stored session and print the lifecycle
  relay [-nats] [-login] host the widget until interrupted
  config init <path>     write the default configuration
`)
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func runConfig(args []string) int {
	if len(args) != 2 || args[0] != "init" {
		fmt.Fprintln(os.Stderr, "usage: wepinctl config init <path>")
		return 2
	}
	if err := config.Save(args[1], config.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "write config: %v\n", err)
		return 1
	}
	fmt.Println(args[1])
	return 0
}

func storeOptions(cfg *config.Config) storage.Options {
	opts := storage.Options{
		Dir:        cfg.Storage.Dir,
		InstallDir: cfg.Storage.InstallDir,
		AppID:      cfg.App.AppID,
		Domain:     cfg.App.Domain,
		SDKType:    cfg.App.SDKType,
		Passphrase: cfg.Storage.Passphrase,
		CacheSize:  cfg.Storage.CacheSize,
	}
	if cfg.Storage.LegacyDir != "" {
		opts.Legacy = storage.NewDirLegacyStore(cfg.Storage.LegacyDir)
	}
	return opts
}

func runStore(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: wepinctl store dump|wipe")
		return 2
	}
	fs := flag.NewFlagSet("store "+args[0], flag.ContinueOnError)
	reveal := fs.Bool("reveal", false, "Print decrypted values")
	resetInstall := fs.Bool("reset-install", false, "Also forget the install tracker and install id")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if cfg.App.AppID == "" {
		fmt.Fprintln(os.Stderr, "app.app_id is required")
		return 1
	}

	store, err := storage.Open(ctx, storeOptions(cfg))
	if err != nil {
		log.Error().Err(err).Msg("Failed to open store")
		return 1
	}
	defer store.Close()

	switch args[0] {
	case "dump":
		return dumpStore(store, *reveal)
	case "wipe":
		if err := store.DeleteAll(); err != nil {
			log.Error().Err(err).Msg("Failed to wipe store")
			return 1
		}
		if *resetInstall {
			installDir := cfg.Storage.InstallDir
			if installDir == "" {
				installDir = cfg.Storage.Dir
			}
			if err := storage.NewInstallTracker(cfg.Storage.Dir, installDir).Reset(); err != nil {
				log.Error().Err(err).Msg("Failed to reset install tracker")
				return 1
			}
		}
		log.Info().Str("scope", store.Scope()).Bool("reset_install", *resetInstall).Msg("Store wiped")
		return 0
	}
	fmt.Fprintln(os.Stderr, "usage: wepinctl store dump|wipe")
	return 2
}

func dumpStore(store *storage.Store, reveal bool) int {
	all := store.GetAll()
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("# scope=%s install_state=%s path=%s\n", store.Scope(), store.InstallState(), store.Path())
	for _, k := range keys {
		if !reveal {
			fmt.Printf("%s\t%s\n", k, kindOf(all[k]))
			continue
		}
		b, err := json.Marshal(all[k])
		if err != nil {
			fmt.Printf("%s\t<%v>\n", k, err)
			continue
		}
		fmt.Printf("%s\t%s\n", k, b)
	}
	return 0
}

func kindOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int64:
		return "int"
	case map[string]any:
		return "json"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func newWidget(cfg *config.Config, s widget.Surface) (*widget.Widget, error) {
	return widget.New(cfg, widget.Deps{Surface: s})
}

func runSession(ctx context.Context, cfg *config.Config, args []string) int {
	if len(args) != 1 || args[0] != "status" {
		fmt.Fprintln(os.Stderr, "usage: wepinctl session status")
		return 2
	}
	w, err := newWidget(cfg, surface.NewLoopback())
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if err := w.Initialize(ctx, widget.Attributes{}); err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer w.Finalize()

	fmt.Printf("lifecycle\t%s\n", w.Lifecycle())
	if rec, ok := w.Session().SessionRecord(); ok {
		fmt.Printf("user_id\t%s\n", rec.UserInfo.UserID)
		fmt.Printf("email\t%s\n", rec.UserInfo.Email)
		fmt.Printf("wallet_id\t%s\n", rec.WalletID)
		fmt.Printf("login_status\t%s\n", rec.UserStatus.LoginStatus)
	}
	return 0
}

func runRelay(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	useNATS := fs.Bool("nats", false, "Relay through NATS instead of HTTP")
	login := fs.Bool("login", false, "Open the login screen once the relay is up")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var (
		s     widget.Surface
		serve func(context.Context) error
	)
	if *useNATS {
		ns, err := surface.DialNATS(cfg.NATS)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect relay")
			return 1
		}
		defer ns.Shutdown()
		log.Info().
			Str("instance", ns.Instance()).
			Str("open_subject", ns.Subjects().Open).
			Msg("NATS widget relay ready")
		s = ns
		serve = func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}
	} else {
		hs := surface.NewHTTPSurface()
		s = hs
		serve = func(ctx context.Context) error {
			return hs.ListenAndServe(ctx, cfg.Relay.Listen)
		}
	}

	w, err := newWidget(cfg, s)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if err := w.Initialize(ctx, widget.Attributes{}); err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer w.Finalize()

	log.Info().
		Str("version", Version).
		Str("lifecycle", w.Lifecycle().String()).
		Msg("Widget relay starting")

	if *login {
		go func() {
			providers := make([]widget.LoginProvider, 0, len(cfg.Widget.LoginProviders))
			for _, p := range cfg.Widget.LoginProviders {
				providers = append(providers, widget.LoginProvider{Provider: p.Provider, ClientID: p.ClientID})
			}
			rec, err := w.LoginWithUI(ctx, providers, "")
			if err != nil {
				log.Warn().Err(err).Msg("Login did not complete")
				return
			}
			log.Info().
				Str("user_id", rec.UserInfo.UserID).
				Str("providers", strings.Join(providerNames(providers), ",")).
				Msg("Logged in")
		}()
	}

	if err := serve(ctx); err != nil {
		log.Error().Err(err).Msg("Relay stopped")
		return 1
	}
	log.Info().Msg("Relay shutdown complete")
	return 0
}

func providerNames(providers []widget.LoginProvider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Provider
	}
	return names
}
