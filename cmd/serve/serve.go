// Package serve provides the serve command that runs the HTTP service.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/api"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/artifactstore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/classifier"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/conf"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/datastore"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/errors"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/identify"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imagepipeline"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/imageprovider"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/logging"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/mqttpub"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/notify"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/observability/metrics"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/suncalc"
	"github.com/iloncka-ds/culicidaelab-server-sub001/internal/telemetry"
)

const (
	mqttConnectTimeout = 30 * time.Second
	notifyTimeout      = 30 * time.Second
	shutdownTimeout    = 10 * time.Second
	drainTimeout       = 30 * time.Second

	imageSyncBatch = 100
)

// Command creates the serve command that runs the HTTP service.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the identification web service",
		Long:  "Start the HTTP server exposing the identification, observation and reference catalog APIs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunServer(settings)
		},
	}

	// Set up flags specific to the 'serve' command
	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port for the web server")
	cmd.Flags().IntVar(&settings.WebServer.RateLimit, "ratelimit", viper.GetInt("webserver.ratelimit"), "Accepted requests per second per client, 0 to disable")
	cmd.Flags().BoolVar(&settings.Output.MQTT.Enabled, "mqtt", viper.GetBool("output.mqtt.enabled"), "Publish stored observations to the configured MQTT broker")
	cmd.Flags().BoolVar(&settings.SpeciesImages.Enabled, "speciesimages", viper.GetBool("speciesimages.enabled"), "Fetch missing species reference images in the background")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// RunServer wires every component together, starts the web server and
// blocks until a termination signal or a fatal listener error.
func RunServer(settings *conf.Settings) error {
	if !settings.WebServer.Enabled {
		return errors.Newf("web server is disabled in configuration").
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}

	logging.Init()
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}

	// Materialize a default config file on first run so the operator
	// has something to edit.
	configPath, err := conf.EnsureDefaultConfig()
	if err != nil {
		slog.Warn("could not materialize default config file", "error", err)
	} else {
		slog.Info("using config file", "path", configPath)
	}

	// Error telemetry is opt-in; failing to start it never blocks startup.
	if err := telemetry.InitSentry(settings); err != nil {
		slog.Warn("error telemetry not started", "error", err)
	}
	telemetry.InitializeErrorIntegration()
	defer telemetry.Flush(3 * time.Second)

	fmt.Printf("CulicidaeLab-Go %s (built %s)\n", settings.Version, settings.BuildDate)
	fmt.Printf("Model %s, threads: %d\n", settings.Model.Identifier, settings.Model.Threads)

	m, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	// Initialize database access.
	store := datastore.New(settings)
	if store == nil {
		return errors.Newf("no database output is enabled in configuration").
			Component("serve").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if withMetrics, ok := store.(interface {
		SetMetrics(*metrics.DatastoreMetrics)
	}); ok {
		withMetrics.SetMetrics(m.Datastore)
	}
	if err := store.Open(); err != nil {
		return err
	}
	defer closeDataStore(store)

	// The engine loads the model lazily on the first prediction, so a
	// missing weights file surfaces per request instead of at startup.
	engine := classifier.New(settings, m.Classifier)
	defer engine.Close()

	notifier, err := notify.New(settings, m.Notification)
	if err != nil {
		return err
	}
	if notifier.Enabled() {
		engine.SetErrorListener(func(engineErr error) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := notifier.EngineError(ctx, engineErr); err != nil {
				slog.Warn("engine error notification failed", "error", err)
			}
		})
	}

	// With persistence disabled the pipeline skips all writes, so the
	// memory store behind it only ever backs upload validation.
	var artifacts artifactstore.Store
	if settings.Artifacts.Enabled {
		fsStore, err := artifactstore.NewFSStore(conf.GetBasePath(settings.Artifacts.Root), settings.Artifacts.RetryWrites)
		if err != nil {
			return err
		}
		fsStore.SetMetrics(m.ArtifactStore)
		artifacts = fsStore
	} else {
		artifacts = artifactstore.NewMemoryStore()
	}

	pipeline := imagepipeline.New(settings, artifacts, m.ImagePipeline)
	identifySvc := identify.New(settings, engine, pipeline, store, m.Identify)

	var publisher mqttpub.Publisher
	if settings.Output.MQTT.Enabled {
		publisher = mqttpub.New(settings, m.MQTT)
		connectCtx, cancel := context.WithTimeout(context.Background(), mqttConnectTimeout)
		if err := publisher.Connect(connectCtx); err != nil {
			// The client keeps retrying in the background and the
			// observation handlers skip publishing while disconnected.
			slog.Warn("MQTT broker connection failed", "error", err)
		}
		cancel()
		defer publisher.Disconnect()
	}

	e := echo.New()
	e.HideBanner = true

	ctrl, err := api.New(e, store, settings, engine, identifySvc, artifacts, suncalc.New(), publisher, m)
	if err != nil {
		return err
	}
	defer ctrl.Shutdown()

	// quitChan is used to signal the goroutines to stop.
	quitChan := make(chan struct{})
	var wg sync.WaitGroup

	serverErr := startWebServer(&wg, settings, e)

	if settings.SpeciesImages.Enabled {
		startSpeciesImageSync(&wg, settings, store, m, quitChan)
	}

	sigChan := monitorSignals()

	var fatalErr error
	select {
	case sig := <-sigChan:
		slog.Info("received termination signal, shutting down", "signal", sig.String())
	case fatalErr = <-serverErr:
	}
	close(quitChan)

	// Stop the listener first so no new work arrives, then drain
	// detached artifact writes within their own window.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("web server shutdown incomplete", "error", err)
	}
	cancelShutdown()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	if err := pipeline.Shutdown(drainCtx); err != nil {
		slog.Warn("artifact pipeline drain incomplete", "error", err)
	}
	cancelDrain()

	wg.Wait()
	return fatalErr
}

// startWebServer runs the echo listener in its own goroutine. A listen
// failure is fatal and reported through the returned channel; a regular
// shutdown is not.
func startWebServer(wg *sync.WaitGroup, settings *conf.Settings, e *echo.Echo) <-chan error {
	errChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := ":" + settings.WebServer.Port
		slog.Info("web server listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	return errChan
}

// startSpeciesImageSync fills missing catalog image URLs from the
// configured provider without blocking startup.
func startSpeciesImageSync(wg *sync.WaitGroup, settings *conf.Settings, store datastore.Interface, m *observability.Metrics, quitChan chan struct{}) {
	provider, err := imageprovider.NewWikiMediaProvider(settings)
	if err != nil {
		slog.Warn("species image sync disabled, provider unavailable", "error", err)
		return
	}
	cache := imageprovider.NewCache(provider, store, m.ImageProvider, settings.Reference.CacheTTL)

	wg.Add(1)
	go func() {
		defer wg.Done()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-quitChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		syncSpeciesImages(ctx, cache, store, logging.ForService("serve"))
	}()
}

// syncSpeciesImages walks the species catalog in batches and fills in
// reference image URLs the catalog is missing. Provider misses are
// normal (the cache negative-caches them) and never abort the walk.
func syncSpeciesImages(ctx context.Context, cache *imageprovider.Cache, store datastore.Interface, logger *slog.Logger) {
	filled := 0
	for offset := 0; ; offset += imageSyncBatch {
		if ctx.Err() != nil {
			return
		}

		batch, err := store.SearchSpecies(ctx, datastore.SpeciesFilter{Limit: imageSyncBatch, Offset: offset})
		if err != nil {
			logger.Warn("species image sync aborted", "error", err)
			return
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			sp := &batch[i]
			if sp.ImageURL != "" {
				continue
			}

			img, err := cache.Get(ctx, sp.ScientificName)
			if err != nil || img.URL == "" {
				continue
			}

			sp.ImageURL = img.URL
			if err := store.SaveSpecies(ctx, sp); err != nil {
				logger.Warn("failed to save species image URL",
					"scientific_name", sp.ScientificName,
					"error", err)
				continue
			}
			filled++
		}

		if len(batch) < imageSyncBatch {
			break
		}
	}

	if filled > 0 {
		logger.Info("species image sync complete", "images_filled", filled)
	}
}

// monitorSignals returns a channel that receives SIGINT and SIGTERM.
func monitorSignals() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// closeDataStore attempts to close the database connection and logs the result.
func closeDataStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	} else {
		slog.Info("database connection closed")
	}
}
