package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	allowedOrigin  string
	bind           string
	codeLength     int
	joinURL        string
	maxPlayers     int
	port           int
	prefix         string
	profile        bool
	questions      string
	roundDelay     time.Duration
	rounds         int
	sessionTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxPlayers < 1 {
		return fmt.Errorf("invalid max players (must be at least 1): %d", c.maxPlayers)
	}
	if c.rounds < 1 {
		return fmt.Errorf("invalid round count (must be at least 1): %d", c.rounds)
	}
	if c.codeLength < 4 || c.codeLength > 32 {
		return fmt.Errorf("invalid code length (must be between 4-32 inclusive): %d", c.codeLength)
	}
	if c.roundDelay < 0 {
		return fmt.Errorf("invalid round delay (must not be negative): %s", c.roundDelay)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must not be negative): %s", c.sessionTimeout)
	}
	if c.joinURL != "" {
		if _, err := url.ParseRequestURI(c.joinURL); err != nil {
			return fmt.Errorf("invalid join url: %w", err)
		}
	}
	c.allowedOrigin = strings.TrimSuffix(c.allowedOrigin, "/")
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("THEVOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "thevote",
		Short:         "A realtime \"who is most likely to\" party game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.allowedOrigin, "allowed-origin", "", "only accept websocket connections from this origin (env: THEVOTE_ALLOWED_ORIGIN)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: THEVOTE_BIND)")
	fs.IntVar(&cfg.codeLength, "code-length", 5, "length of generated room codes (env: THEVOTE_CODE_LENGTH)")
	fs.StringVar(&cfg.joinURL, "join-url", "", "url that room codes are appended to in QR codes (env: THEVOTE_JOIN_URL)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 12, "maximum players per room (env: THEVOTE_MAX_PLAYERS)")
	fs.IntVarP(&cfg.port, "port", "p", 9000, "port to listen on (env: THEVOTE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: THEVOTE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: THEVOTE_PROFILE)")
	fs.StringVarP(&cfg.questions, "questions", "q", "", "question catalog to load instead of the built-in one (yaml, json or toml) (env: THEVOTE_QUESTIONS)")
	fs.DurationVar(&cfg.roundDelay, "round-delay", time.Second, "pause between a round's result and the next question (env: THEVOTE_ROUND_DELAY)")
	fs.IntVar(&cfg.rounds, "rounds", 10, "questions per game (env: THEVOTE_ROUNDS)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle games are ended, 0 to disable (env: THEVOTE_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: THEVOTE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: THEVOTE_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: THEVOTE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: THEVOTE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("thevote v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
