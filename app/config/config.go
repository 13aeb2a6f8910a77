package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Settings holds everything the scraper needs, resolved once at startup.
// Components receive the values they need explicitly and never consult the
// environment themselves.
type Settings struct {
	MongoHost string
	MongoPort int

	DiscordToken string
	DiscordBot   bool
	WorkersNum   int

	TargetChannels []int64
	FetchLimit     int
	RescanInterval time.Duration

	SentryDSN string
	Debug     bool
}

type options struct {
	MongoHost string `long:"mongo-host" env:"MONGO_HOST" required:"true" description:"mongodb host"`
	MongoPort int    `long:"mongo-port" env:"MONGO_PORT" default:"27017" description:"mongodb port"`

	DiscordToken string `long:"discord-token" env:"DISCORD_TOKEN" required:"true" description:"discord credential token"`
	DiscordBot   bool   `long:"discord-bot" env:"DISCORD_BOT" description:"authenticate as a bot account"`
	WorkersNum   int    `long:"workers" env:"DISCORD_WORKERS_NUM" default:"5" description:"number of workers handling gateway events"`

	TargetChannels []string      `long:"channel" env:"TARGET_CHANNELS" env-delim:"," required:"true" description:"channel ids to scrape"`
	FetchLimit     int           `long:"fetch-limit" env:"MESSAGE_FETCH_LIMIT" default:"500" description:"history page size per request"`
	RescanInterval time.Duration `long:"rescan-interval" env:"RESCAN_INTERVAL" default:"24h" description:"delay between full backfill passes"`

	SentryDSN string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, reporting disabled when empty"`
	Debug     bool   `long:"debug" env:"LOG_DEBUG" description:"enable debug logging"`
}

// Parse reads settings from the given command line arguments and the
// environment. It fails before any network connection is attempted.
func Parse(args []string) (*Settings, error) {
	var opts options

	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	_, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	channels, err := parseChannels(opts.TargetChannels)
	if err != nil {
		return nil, fmt.Errorf("parsing target channels: %w", err)
	}

	if opts.FetchLimit <= 0 {
		return nil, fmt.Errorf("fetch limit must be greater than 0, got %d", opts.FetchLimit)
	}

	return &Settings{
		MongoHost:      opts.MongoHost,
		MongoPort:      opts.MongoPort,
		DiscordToken:   opts.DiscordToken,
		DiscordBot:     opts.DiscordBot,
		WorkersNum:     opts.WorkersNum,
		TargetChannels: channels,
		FetchLimit:     opts.FetchLimit,
		RescanInterval: opts.RescanInterval,
		SentryDSN:      opts.SentryDSN,
		Debug:          opts.Debug,
	}, nil
}

func parseChannels(raw []string) ([]int64, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no channels configured")
	}

	channels := make([]int64, 0, len(raw))
	for _, entry := range raw {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			return nil, fmt.Errorf("empty channel id in list")
		}

		id, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid channel id %q: %w", trimmed, err)
		}

		channels = append(channels, id)
	}

	return channels, nil
}
