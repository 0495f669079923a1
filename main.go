package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	apihttp "outlier-monitor/internal/api/http"
	"outlier-monitor/internal/cluster"
	"outlier-monitor/internal/config"
	"outlier-monitor/internal/detect"
	"outlier-monitor/internal/dtapi"
	"outlier-monitor/internal/eventing"
	"outlier-monitor/internal/notify"
	"outlier-monitor/internal/observability/metrics"
	"outlier-monitor/internal/report"
	"outlier-monitor/internal/storage/postgres"
	telemetry "outlier-monitor/internal/telemetry/domain"
	"outlier-monitor/internal/window"
)

func main() {
	args := parseArgs()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}
	if args.timestep > 0 {
		cfg.Timestep = args.timestep
	}
	if args.window > 0 {
		cfg.Window = args.window
	}
	if cfg.Retention < cfg.Window {
		cfg.Retention = cfg.Window
	}

	metrics.Init()

	client, err := dtapi.NewClient(cfg.BaseURL, dtapi.Credentials{
		KeyID:  cfg.KeyID,
		Secret: cfg.Secret,
		Email:  cfg.Email,
	},
		dtapi.WithTokenURL(cfg.TokenURL),
		dtapi.WithMaxReconnects(cfg.MaxReconnects),
	)
	if err != nil {
		logger.Fatalf("vendor client error: %v", err)
	}

	buffer := window.New(cfg.Retention)
	classifier := cluster.NewClassifier(
		cluster.WithEpsilonModifier(cfg.EpsilonModifier),
		cluster.WithMinClusterSize(cfg.MinClusterSize),
		cluster.WithEpsilonFloor(cfg.EpsilonFloor),
	)
	bus := eventing.NewBus()

	director, err := detect.NewDirector(client, buffer, classifier, bus, logger, detect.Config{
		ProjectID:    args.projectID,
		SensorLabel:  cfg.SensorLabel,
		Window:       cfg.Window,
		Timestep:     cfg.Timestep,
		ResampleStep: cfg.ResampleStep,
		Verbose:      args.verbose,
	})
	if err != nil {
		logger.Fatalf("director error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wirePostgres(cfg, bus, buffer, logger)
	wireNotifier(cfg, bus, logger)
	wireStatusServer(cfg, bus, logger)
	if !args.noPlot {
		wireLivePlot(cfg, bus, buffer, logger)
	}

	if err := director.Init(ctx); err != nil {
		if errors.Is(err, dtapi.ErrAuth) {
			logger.Fatalf("authentication failed: %v", err)
		}
		logger.Fatalf("device listing failed: %v", err)
	}

	if !args.start.IsZero() {
		if err := director.RunHistory(ctx, args.start, args.end); err != nil {
			logger.Fatalf("history run failed: %v", err)
		}
		finishHistory(cfg, director, buffer, logger, args.noPlot)
	}

	if err := director.RunStream(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, dtapi.ErrAuth) {
			logger.Fatalf("authentication failed: %v", err)
		}
		logger.Fatalf("stream failed: %v", err)
	}
	logger.Printf("shutting down")
}

type cliArgs struct {
	projectID string
	start     time.Time
	end       time.Time
	timestep  time.Duration
	window    time.Duration
	noPlot    bool
	verbose   bool
}

func parseArgs() cliArgs {
	now := time.Now().UTC().Truncate(time.Second)
	startFlag := flag.String("starttime", "", "replay event history from this UTC time [RFC 3339]")
	endFlag := flag.String("endtime", now.Format(time.RFC3339), "replay event history up to this UTC time [RFC 3339]")
	timestepFlag := flag.Int("timestep", 0, "seconds between clustering passes")
	windowFlag := flag.Int("window", 0, "seconds of data in each clustering window")
	noPlot := flag.Bool("no-plot", false, "suppress plot rendering")
	verbose := flag.Bool("verbose", false, "log every received event")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <PROJECT_ID>\n\nOutlier detection for multistream temperature data.\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	args := cliArgs{
		projectID: flag.Arg(0),
		noPlot:    *noPlot,
		verbose:   *verbose,
	}
	if *startFlag != "" {
		start, err := time.Parse(time.RFC3339, *startFlag)
		if err != nil {
			log.Fatalf("invalid -starttime: %v", err)
		}
		args.start = start.UTC()
	}
	end, err := time.Parse(time.RFC3339, *endFlag)
	if err != nil {
		log.Fatalf("invalid -endtime: %v", err)
	}
	args.end = end.UTC()
	if *timestepFlag > 0 {
		args.timestep = time.Duration(*timestepFlag) * time.Second
	}
	if *windowFlag > 0 {
		args.window = time.Duration(*windowFlag) * time.Second
	}
	return args
}

func wirePostgres(cfg config.Config, bus *eventing.Bus, buffer *window.Buffer, logger *log.Logger) {
	if cfg.DatabaseURL == "" {
		return
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}
	repo := postgres.NewRepository(db)

	bus.Subscribe(eventing.EventTypeOf[detect.WindowClustered](), func(ctx context.Context, event any) error {
		pass, ok := event.(detect.WindowClustered)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		if err := repo.InsertPass(ctx, pass); err != nil {
			logger.Printf("persist pass: %v", err)
		}
		if err := repo.InsertReadings(ctx, windowReadings(buffer, pass)); err != nil {
			logger.Printf("persist readings: %v", err)
		}
		return nil
	})
	logger.Printf("persisting readings and outlier labels to postgres")
}

// windowReadings collects the buffered readings inside the clustered window.
// The upsert keys on (sensor_id, ts), so overlapping windows stay idempotent.
func windowReadings(buffer *window.Buffer, pass detect.WindowClustered) []telemetry.Reading {
	var readings []telemetry.Reading
	for _, slice := range buffer.Snapshot(pass.WindowStart, pass.WindowEnd) {
		for i := range slice.Times {
			readings = append(readings, telemetry.Reading{
				SensorID: slice.SensorID,
				At:       slice.Times[i],
				Value:    slice.Values[i],
			})
		}
	}
	return readings
}

func wireNotifier(cfg config.Config, bus *eventing.Bus, logger *log.Logger) {
	var channels []notify.Channel
	if cfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		channels = append(channels, channel)
	}
	if cfg.MQTTBrokerURL != "" {
		channel, err := notify.NewMQTTChannel(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			logger.Fatalf("mqtt channel error: %v", err)
		}
		channels = append(channels, channel)
	}
	if len(channels) == 0 {
		return
	}

	tmpl, err := notify.NewTemplate(cfg.AlertTemplate)
	if err != nil {
		logger.Fatalf("alert template error: %v", err)
	}
	notifier, err := notify.NewNotifier(
		notify.NewMultiChannel(channels...),
		tmpl,
		notify.WithCooldown(cfg.AlertCooldown),
	)
	if err != nil {
		logger.Fatalf("notifier error: %v", err)
	}

	bus.Subscribe(eventing.EventTypeOf[detect.SensorFlagged](), func(ctx context.Context, event any) error {
		flagged, ok := event.(detect.SensorFlagged)
		if !ok {
			return eventing.ErrInvalidEventType
		}
		notifier.Notify(ctx, flagged)
		return nil
	})
	logger.Printf("alerting on %d channel(s)", len(channels))
}

func wireStatusServer(cfg config.Config, bus *eventing.Bus, logger *log.Logger) {
	if cfg.HTTPAddr == "" {
		return
	}
	server := apihttp.NewServer(logger)
	bus.Subscribe(eventing.EventTypeOf[detect.WindowClustered](), server.HandlePass)
	server.Start(cfg.HTTPAddr)
}

func wireLivePlot(cfg config.Config, bus *eventing.Bus, buffer *window.Buffer, logger *log.Logger) {
	bus.Subscribe(eventing.EventTypeOf[detect.WindowClustered](), func(context.Context, any) error {
		if err := report.RenderPlot(bufferSeries(buffer), cfg.LivePlotPath); err != nil {
			logger.Printf("plot error: %v", err)
		}
		return nil
	})
}

func finishHistory(cfg config.Config, director *detect.Director, buffer *window.Buffer, logger *log.Logger, noPlot bool) {
	passes := director.Passes()
	if len(passes) == 0 {
		logger.Printf("history replay produced no clustering passes")
		return
	}
	runID := passes[len(passes)-1].RunID
	if err := report.WriteRunReports(cfg.ReportDir, runID, passes); err != nil {
		logger.Printf("report error: %v", err)
	} else {
		logger.Printf("run reports written to %s", cfg.ReportDir)
	}
	if noPlot {
		return
	}
	plotPath := filepath.Join(cfg.ReportDir, "run-"+runID+".png")
	if err := report.RenderPlot(bufferSeries(buffer), plotPath); err != nil {
		logger.Printf("plot error: %v", err)
	} else {
		logger.Printf("plot written to %s", plotPath)
	}
}

func bufferSeries(buffer *window.Buffer) []telemetry.Series {
	series := make([]telemetry.Series, 0, buffer.SensorCount())
	for _, id := range buffer.Sensors() {
		if s, ok := buffer.Series(id); ok {
			series = append(series, s)
		}
	}
	return series
}
