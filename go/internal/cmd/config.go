package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mcdev12/brainbuffer/go/internal/bot"
	"github.com/mcdev12/brainbuffer/go/internal/match"
)

type Config struct {
	verbose bool

	mode    string
	server  string
	matchID string
	token   string

	bot         bool
	botAccuracy float64
	botThink    time.Duration

	listen      string
	serveListen string
	rules       string
	prefsFile   string
	prefsDB     bool
	playerID    string
	natsURL     string

	music     bool
	sfx       bool
	vibration bool

	checkURL string
	precheck bool
}

func (c *Config) validate() error {
	switch match.Mode(strings.ToUpper(c.mode)) {
	case match.ModeOffline:
	case match.ModeOnline:
		if c.server == "" || c.matchID == "" {
			return errors.New("online play needs --server and --match-id")
		}
	default:
		return fmt.Errorf("invalid mode %q (must be offline or online)", c.mode)
	}
	if c.botAccuracy < 0 || c.botAccuracy > 1 {
		return fmt.Errorf("invalid bot accuracy (must be between 0 and 1 inclusive): %v", c.botAccuracy)
	}
	if !c.bot && c.listen == "" {
		return errors.New("without --bot a view server is needed; set --listen")
	}
	if c.prefsDB && c.playerID == "" {
		return errors.New("--prefs-db needs --player-id")
	}
	return nil
}

func (c *Config) matchMode() match.Mode {
	return match.Mode(strings.ToUpper(c.mode))
}

func newRootCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("BRAINBUFFER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "brainbuffer",
		Short:   "Memory-speed matches against the clock or another player.",
		Version: releaseVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfg.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: BRAINBUFFER_VERBOSE)")

	cmd.AddCommand(newPlayCmd(cfg), newServeCmd(cfg), newNetcheckCmd(cfg))

	for _, c := range append(cmd.Commands(), cmd) {
		bindEnv(v, c.Flags())
	}
	bindEnv(v, cmd.PersistentFlags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("brainbuffer v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// bindEnv lets BRAINBUFFER_* variables fill any flag not given on the command line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func addMatchFlags(cfg *Config, fs *pflag.FlagSet) {
	fs.StringVarP(&cfg.mode, "mode", "m", "offline", "offline or online (env: BRAINBUFFER_MODE)")
	fs.StringVar(&cfg.server, "server", "", "match server base url (env: BRAINBUFFER_SERVER)")
	fs.StringVar(&cfg.matchID, "match-id", "", "match to join when online (env: BRAINBUFFER_MATCH_ID)")
	fs.StringVar(&cfg.token, "token", "", "match access token (env: BRAINBUFFER_TOKEN)")
	fs.StringVar(&cfg.rules, "rules", "", "path to a rules yaml file (env: BRAINBUFFER_RULES)")
	fs.StringVar(&cfg.prefsFile, "prefs-file", "", "path to the prefs file, defaults to the user config dir (env: BRAINBUFFER_PREFS_FILE)")
	fs.BoolVar(&cfg.prefsDB, "prefs-db", false, "keep prefs in Postgres using DB_* settings (env: BRAINBUFFER_PREFS_DB)")
	fs.StringVar(&cfg.playerID, "player-id", "", "player whose prefs are kept in Postgres (env: BRAINBUFFER_PLAYER_ID)")
	fs.StringVar(&cfg.natsURL, "nats-url", "", "publish match outcomes to this NATS server (env: BRAINBUFFER_NATS_URL)")
	fs.BoolVar(&cfg.music, "music", true, "play music (env: BRAINBUFFER_MUSIC)")
	fs.BoolVar(&cfg.sfx, "sfx", true, "play sound effects (env: BRAINBUFFER_SFX)")
	fs.BoolVar(&cfg.vibration, "vibration", true, "vibrate on selections (env: BRAINBUFFER_VIBRATION)")
	fs.BoolVar(&cfg.precheck, "netcheck", true, "check network stability before online play (env: BRAINBUFFER_NETCHECK)")
}

func newPlayCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one match with the built-in bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return runMatch(cmd.Context(), cfg, cmd.Flags())
		},
	}
	fs := cmd.Flags()
	addMatchFlags(cfg, fs)
	defaults := bot.DefaultConfig()
	fs.BoolVar(&cfg.bot, "bot", true, "let the bot play (env: BRAINBUFFER_BOT)")
	fs.Float64Var(&cfg.botAccuracy, "bot-accuracy", defaults.Accuracy, "chance that a bot selection is correct (env: BRAINBUFFER_BOT_ACCURACY)")
	fs.DurationVar(&cfg.botThink, "bot-think", defaults.Think, "bot delay before each selection (env: BRAINBUFFER_BOT_THINK)")
	fs.StringVar(&cfg.listen, "listen", "", "also serve the match view on this address (env: BRAINBUFFER_LISTEN)")
	return cmd
}

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a match to a rendering client over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.bot = false
			cfg.listen = cfg.serveListen
			if err := cfg.validate(); err != nil {
				return err
			}
			return runMatch(cmd.Context(), cfg, cmd.Flags())
		},
	}
	fs := cmd.Flags()
	addMatchFlags(cfg, fs)
	fs.StringVarP(&cfg.serveListen, "listen", "l", ":8090", "address to serve the match view on (env: BRAINBUFFER_LISTEN)")
	return cmd
}

func newNetcheckCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "netcheck",
		Short: "Measure whether the network is stable enough for online play",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.checkURL == "" {
				return errors.New("--url is required")
			}
			return runNetcheck(cmd.Context(), cmd.OutOrStdout(), cfg.checkURL)
		},
	}
	cmd.Flags().StringVar(&cfg.checkURL, "url", "", "address to probe (env: BRAINBUFFER_URL)")
	return cmd
}
