package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rewired-gh/sitwatch/internal/archive"
	"github.com/rewired-gh/sitwatch/internal/baseline"
	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/cluster"
	"github.com/rewired-gh/sitwatch/internal/config"
	"github.com/rewired-gh/sitwatch/internal/correlation"
	"github.com/rewired-gh/sitwatch/internal/engine"
	"github.com/rewired-gh/sitwatch/internal/history"
	"github.com/rewired-gh/sitwatch/internal/hotspot"
	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/models"
	"github.com/rewired-gh/sitwatch/internal/polymarket"
	"github.com/rewired-gh/sitwatch/internal/redisbus"
	"github.com/rewired-gh/sitwatch/internal/rss"
	"github.com/rewired-gh/sitwatch/internal/snapshot"
	"github.com/rewired-gh/sitwatch/internal/storage"
	"github.com/rewired-gh/sitwatch/internal/telegram"
	"github.com/rewired-gh/sitwatch/internal/usgs"
)

var (
	configPath    = flag.String("config", "configs/config.yaml", "Path to configuration file")
	listSnapshots = flag.Bool("list-snapshots", false, "List stored snapshot timestamps and exit")
	showSnapshot  = flag.String("show-snapshot", "", "Print the state restored from the snapshot at this RFC3339 time and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real{}

	hotspots := cfg.Hotspots
	if len(hotspots) == 0 {
		hotspots = hotspot.Defaults()
	}
	registry, err := hotspot.NewRegistry(hotspots)
	if err != nil {
		logger.Fatal("Invalid hotspots: %v", err)
	}

	var archiver snapshot.Archiver
	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, archive.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
			Prefix:         cfg.Archive.Prefix,
		})
		if err != nil {
			logger.Fatal("Failed to initialize snapshot archive: %v", err)
		}
		archiver = a
		logger.Info("Archiving expired snapshots to bucket %s", cfg.Archive.Bucket)
	}
	snapshots := snapshot.New(store, archiver, clk)

	if *listSnapshots || *showSnapshot != "" {
		if err := inspectSnapshots(os.Stdout, snapshots, registry.Names(), *showSnapshot); err != nil {
			logger.Fatal("%v", err)
		}
		return
	}

	baselines := baseline.NewStore(store, clk)
	logger.Info("Loaded %d baselines", baselines.Warm())

	corrCfg := correlation.DefaultConfig()
	corrCfg.MinEventSize = cfg.Correlation.MinEventSize
	corrCfg.MinKeywordOverlap = cfg.Correlation.MinKeywordOverlap
	corrCfg.PredictionMove = cfg.Correlation.PredictionMove
	corrCfg.MarketMovePct = cfg.Correlation.MarketMovePct
	corrCfg.VelocityMinItems = cfg.Correlation.VelocityMinItems
	corrCfg.VelocityWindow = cfg.Correlation.VelocityWindow
	if len(cfg.Correlation.CategorySymbols) > 0 {
		corrCfg.CategorySymbols = cfg.Correlation.CategorySymbols
	}

	var predictions engine.PredictionFetcher
	if cfg.Polymarket.Enabled {
		predictions = polymarket.NewClient(polymarket.ClientConfig{
			GammaAPIURL:    cfg.Polymarket.GammaAPIURL,
			Timeout:        cfg.Polymarket.Timeout,
			MaxRetries:     cfg.Polymarket.MaxRetries,
			RetryDelayBase: cfg.Polymarket.RetryDelayBase,
			Limit:          cfg.Polymarket.Limit,
			MinVolume24h:   cfg.Polymarket.MinVolume24h,
		})
	} else {
		logger.Debug("Polymarket predictions disabled")
	}

	var seismic engine.SeismicFetcher
	if cfg.Seismic.Enabled {
		seismic = usgs.NewClient(usgs.ClientConfig{
			FeedURL:      cfg.Seismic.FeedURL,
			MinMagnitude: cfg.Seismic.MinMagnitude,
			Timeout:      cfg.Seismic.Timeout,
		})
	} else {
		logger.Debug("Seismic feed disabled")
	}

	var (
		notifiers      []engine.Notifier
		alerter        engine.Alerter
		telegramClient *telegram.Client
	)
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		notifiers = append(notifiers, telegramClient)
		alerter = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if cfg.Redis.Enabled {
		publisher, err := redisbus.New(ctx, redisbus.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Stream:     cfg.Redis.Stream,
			Channel:    cfg.Redis.Channel,
			MaxLen:     cfg.Redis.MaxLen,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis: %v", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close Redis client: %v", err)
			}
		}()
		notifiers = append(notifiers, publisher)
		logger.Info("Publishing signals to Redis stream %s", cfg.Redis.Stream)
	}

	eng, err := engine.New(engine.Config{
		NewsCategories:   cfg.News.Categories,
		MarketSymbols:    cfg.Markets.Symbols,
		FetchConcurrency: cfg.Engine.FetchConcurrency,
		FetchTimeout:     cfg.Engine.FetchTimeout,
	}, engine.Deps{
		News:        rss.NewFetcher(cfg.News.Timeout, cfg.News.RequestInterval, cfg.News.AlertKeywords),
		Predictions: predictions,
		Seismic:     seismic,
		Notifiers:   notifiers,
		Baselines:   baselines,
		Clusterer: cluster.New(cluster.Config{
			SimilarityThreshold: cfg.Cluster.SimilarityThreshold,
			MinSharedKeywords:   cfg.Cluster.MinSharedKeywords,
		}),
		Hotspots:   registry,
		Correlator: correlation.New(corrCfg, clk),
		History:    history.New(store, cfg.Engine.HistoryTail),
		Snapshots:  snapshots,
		Clock:      clk,
	})
	if err != nil {
		logger.Fatal("Failed to initialize engine: %v", err)
	}

	scheduler := engine.NewScheduler(eng, engine.SchedulerConfig{
		RefreshInterval:  cfg.Engine.RefreshInterval,
		SnapshotInterval: cfg.Engine.SnapshotInterval,
		CleanInterval:    cfg.Engine.CleanInterval,
		RetentionDays:    cfg.Engine.RetentionDays,
	}, alerter)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, eng, scheduler)
	}
	go logEvents(ctx, eng.Events())

	logger.Info("Starting sitwatch (%d news categories, %d hotspots, refresh: %v)",
		len(cfg.News.Categories), len(hotspots), cfg.Engine.RefreshInterval)

	scheduler.Run(ctx)
	logger.Info("Service stopped")
}

func logEvents(ctx context.Context, events <-chan engine.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case engine.EventError:
				logger.Warn("Engine error: %v", ev.Err)
			case engine.EventHotspotsChanged:
				for _, h := range ev.Hotspots {
					if h.Level != models.HotspotLow {
						logger.Info("Hotspot %s is %s: %s (score %d)", h.Name, h.Level, h.Status, h.Score)
					}
				}
			case engine.EventPlaybackEntered:
				logger.Info("Replaying snapshot %s", ev.Snapshot.Format(time.RFC3339))
			default:
				logger.Debug("Engine event: %s", ev.Kind)
			}
		}
	}
}

// inspectSnapshots lists snapshot timestamps, or prints the state restored
// from the snapshot at show when it is set.
func inspectSnapshots(w io.Writer, snapshots *snapshot.Store, known map[string]bool, show string) error {
	if show == "" {
		list, err := snapshots.List()
		if err != nil {
			return err
		}
		for _, ts := range list {
			fmt.Fprintln(w, ts.Format(time.RFC3339))
		}
		return nil
	}

	ts, err := time.Parse(time.RFC3339, show)
	if err != nil {
		return fmt.Errorf("invalid -show-snapshot time: %w", err)
	}
	snap, err := snapshots.Get(ts)
	if err != nil {
		return err
	}
	r := snapshot.Restore(snap, known)

	fmt.Fprintf(w, "Snapshot %s\n\nEvents (%d):\n", r.Timestamp.Format(time.RFC3339), len(r.Events))
	for _, ev := range r.Events {
		mark := " "
		if ev.HasAlert {
			mark = "!"
		}
		fmt.Fprintf(w, " %s %3d  %s\n", mark, ev.Size(), ev.RepresentativeTitle)
	}
	fmt.Fprintf(w, "\nMarkets (%d):\n", len(r.Markets))
	for _, m := range r.Markets {
		fmt.Fprintf(w, "  %-10s %12.2f\n", m.Symbol, *m.Price)
	}
	fmt.Fprintf(w, "\nPredictions (%d):\n", len(r.Predictions))
	for _, p := range r.Predictions {
		fmt.Fprintf(w, "  %5.1f%%  %s\n", p.YesPrice*100, p.Title)
	}

	names := make([]string, 0, len(r.HotspotLevels))
	for name := range r.HotspotLevels {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "\nHotspots (%d):\n", len(names))
	for _, name := range names {
		fmt.Fprintf(w, "  %-20s %s\n", name, r.HotspotLevels[name])
	}
	return nil
}
