package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"

	"eventcal/internal/color"
	"eventcal/internal/config"
	appLog "eventcal/internal/log"
	"eventcal/internal/remote"
	"eventcal/internal/store"
	"eventcal/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	baseURL    string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.baseURL != "" {
		conf.BaseURL = flags.baseURL
	}
	conf.Normalize()
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "timezone", conf.Timezone)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"base_url", conf.BaseURL,
		"request_timeout", conf.RequestTimeout,
		"timezone", loc.String(),
		"reload", conf.Reload,
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := remote.NewHTTPClient(remote.Options{
		BaseURL:   conf.BaseURL,
		Timeout:   conf.RequestTimeout,
		TextColor: conf.TextColor,
		Location:  loc,
	})
	events := store.New()
	srv := web.NewServer(conf, events, client, loc)

	// A failed initial load leaves the cache empty; the server still starts.
	if err := srv.Reload(ctx); err != nil {
		appLog.Error("initial event load failed", err, "base_url", conf.BaseURL)
		if flags.once {
			os.Exit(1)
		}
	}

	if flags.once {
		printEvents(events)
		return
	}

	if conf.Reload != "" {
		sched := cron.New()
		if _, err := sched.AddFunc(conf.Reload, func() {
			if err := srv.Reload(ctx); err != nil {
				appLog.Error("scheduled event reload failed", err)
			}
		}); err != nil {
			appLog.Error("invalid reload schedule", err, "reload", conf.Reload)
			os.Exit(1)
		}
		sched.Start()
		defer func() {
			<-sched.Stop().Done()
		}()
	}

	if err := web.StartServer(ctx, srv); err != nil {
		appLog.Error("http server failed", err, "listen", conf.Listen)
		os.Exit(1)
	}
	appLog.Info("eventcal exiting")
}

// printEvents writes the cached events as a title/priority table.
func printEvents(st *store.Store) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTART\tEND\tPRIORITY\tCOLOR")
	for _, ev := range st.All() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.ID,
			ev.Title,
			ev.Start.Format(time.RFC3339),
			ev.End.Format(time.RFC3339),
			ev.Priority,
			color.For(ev.Priority),
		)
	}
	_ = tw.Flush()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./eventcal.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.baseURL, "base-url", "", "Remote event store address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load events once, print them and exit")

	flag.Parse()

	return cfg
}
