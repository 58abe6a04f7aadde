package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tomaslejdung/sharescreen/pkg/controller"
	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/settings"
)

// DefaultListenAddr is where a hosting participant serves the session
const DefaultListenAddr = ":8080"

// Config holds runtime configuration, merged from flags, SHARESCREEN_*
// environment variables and an optional config file.
type Config struct {
	Dev     bool   `mapstructure:"dev"`
	LogFile string `mapstructure:"log_file"`

	// Server is the URL of a remote session server. Empty hosts the
	// session in-process on Listen.
	Server string `mapstructure:"server"`
	Listen string `mapstructure:"listen"`

	Channel  string `mapstructure:"channel"`
	Query    string `mapstructure:"q"`
	Nickname string `mapstructure:"nickname"`
	Initials string `mapstructure:"initials"`
	Color    string `mapstructure:"color"`
	Profile  string `mapstructure:"profile"`

	AppID string `mapstructure:"app_id"`
	Token string `mapstructure:"token"`

	// capture files; screen capture is not available without them
	Video string `mapstructure:"video"`
	Audio string `mapstructure:"audio"`

	TURNServer string `mapstructure:"turn"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`
	ForceRelay bool   `mapstructure:"force_relay"`
	NoSTUN     bool   `mapstructure:"no_stun"`

	GrantTimeout     time.Duration `mapstructure:"grant_timeout"`
	SubscribeTimeout time.Duration `mapstructure:"subscribe_timeout"`

	Headless bool `mapstructure:"headless"`
	Share    bool `mapstructure:"share"`
}

func registerJoinFlags(flags *pflag.FlagSet) {
	flags.StringP("channel", "c", "", "session channel (room code); generated when empty")
	flags.StringP("q", "q", "", "alias of --channel")
	_ = flags.MarkHidden("q")
	flags.StringP("nickname", "n", "", "nickname shown to other participants")
	flags.StringP("initials", "i", "", "initials shown to other participants")
	flags.String("color", "", "view color, e.g. hsl(120, 40%, 40%)")
	flags.StringP("profile", "p", "", "capture profile ("+strings.Join(media.ProfileNames(), ", ")+")")

	flags.String("server", "", "remote session server URL; hosts the session when empty")
	flags.String("listen", DefaultListenAddr, "address to host the session on")
	flags.String("app-id", "sharescreen", "media application id")
	flags.String("token", "", "media access token")

	flags.String("video", "", "IVF file to share as the screen")
	flags.String("audio", "", "Ogg/Opus file to share alongside the screen")

	flags.String("turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	flags.String("turn-user", "", "TURN server username")
	flags.String("turn-pass", "", "TURN server password")
	flags.Bool("force-relay", false, "force TURN relay (disable direct P2P)")
	flags.Bool("no-stun", false, "do not use public STUN servers")

	flags.Duration("grant-timeout", controller.DefaultGrantTimeout, "how long to wait for sharing rights")
	flags.Duration("subscribe-timeout", controller.DefaultSubscribeTimeout, "how long to wait for remote media")

	flags.Bool("headless", false, "run without the terminal UI")
	flags.Bool("share", false, "request sharing right after joining")
}

// bindFlags binds every flag in flags to v, dashes becoming underscores
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
			panic(err)
		}
	})
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sharescreen")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("SHARESCREEN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// LaunchParams returns the participant's launch parameters. -q wins over
// --channel.
func (c Config) LaunchParams() settings.LaunchParams {
	channel := c.Channel
	if c.Query != "" {
		channel = c.Query
	}
	return settings.LaunchParams{
		Channel:  channel,
		Nickname: c.Nickname,
		Initials: c.Initials,
		Color:    c.Color,
		Profile:  c.Profile,
	}
}

// ICE returns the peer connection configuration
func (c Config) ICE() media.ICEConfig {
	return media.ICEConfig{
		TURNServer: c.TURNServer,
		TURNUser:   c.TURNUser,
		TURNPass:   c.TURNPass,
		ForceRelay: c.ForceRelay,
		NoSTUN:     c.NoSTUN,
	}
}

// Capture picks the capture source for shares
func (c Config) Capture() media.CaptureFunc {
	if c.Video == "" {
		return media.UnsupportedCapture
	}
	return media.FileCapture(c.Video, c.Audio)
}
