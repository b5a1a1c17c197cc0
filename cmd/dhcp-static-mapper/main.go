package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"dhcpmapper"
	"dhcpmapper/mapper"
	"dhcpmapper/profiler"
	"dhcpmapper/publisher"
	"dhcpmapper/router"
	mapperutil "dhcpmapper/util"
)

// Sighup error is used to indicate that the mapper received a SIGHUP
// signal or its environment file has changed.
type sighupError struct{}

// Returns sighupError error text.
func (e *sighupError) Error() string {
	return "received SIGHUP signal"
}

// Error used to indicate that Ctrl-C was pressed to terminate the mapper.
type ctrlcError struct{}

// Returns ctrlcError error text.
func (e *ctrlcError) Error() string {
	return "received Ctrl-C signal"
}

// Builds the mapper settings from the CLI flags.
func newSettings(c *cli.Context) *mapper.Settings {
	return &mapper.Settings{
		Router: router.ClientConfig{
			BaseURL:             c.String("base-url"),
			Login:               c.String("login"),
			Password:            c.String("password"),
			ClientID:            c.String("client-id"),
			AccessToken:         c.String("access-token"),
			SkipTLSVerification: c.Bool("skip-tls-cert-verification"),
			Timeout:             time.Duration(c.Int("request-timeout")) * time.Second,
		},
		InterfaceID:          c.String("iface-id"),
		InterfaceDescription: c.String("iface-descr"),
		ExcludeHostname:      c.String("exclude-hostname"),
		SyncInterval:         time.Duration(c.Int("sync-interval")) * time.Second,
		SyncAtStartup:        c.Bool("sync-at-startup"),
		PublishEnabled:       mapperutil.IsTruthy(c.String("send-data-to-rabbitmq")),
		RabbitMQ: publisher.Settings{
			Host:        c.String("rabbitmq-host"),
			Port:        c.String("rabbitmq-port"),
			User:        c.String("rabbitmq-user"),
			Password:    c.String("rabbitmq-password"),
			VirtualHost: c.String("rabbitmq-vh"),
			Exchange:    c.String("rabbitmq-exchange"),
			Queue:       c.String("rabbitmq-queue"),
		},
		MetricsAddress: c.String("metrics-address"),
	}
}

// Logs the effective configuration without the credentials.
func logConfiguration(c *cli.Context) {
	configuration := map[string]any{}
	for _, flag := range c.App.Flags {
		name := flag.Names()[0]
		configuration[name] = c.Value(name)
	}
	mapperutil.HideSensitiveData(&configuration)
	log.WithFields(configuration).Debug("Effective configuration")
}

// Starts the synchronizer and its supporting services and blocks until
// the termination or reload is requested.
func runMapper(c *cli.Context, reload bool) error {
	if !reload {
		log.Printf("Starting DHCP static mapper, version %s, build date %s", dhcpmapper.Version, dhcpmapper.BuildDate)
	}

	settings := newSettings(c)
	if err := settings.Validate(); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	logConfiguration(c)

	if address := c.String("profiler-address"); address != "" {
		defer profiler.Start(address)()
	}

	metrics := mapper.NewMetrics()
	if settings.MetricsAddress != "" {
		metricsServer := mapper.NewMetricsServer(settings.MetricsAddress, metrics)
		metricsServer.Start()
		defer metricsServer.Shutdown()
	}

	var tablePublisher mapper.Publisher
	if settings.PublishEnabled {
		rabbitPublisher := publisher.NewPublisher(settings.RabbitMQ, settings.SyncInterval)
		if err := rabbitPublisher.Connect(); err != nil {
			log.WithError(err).Warn("Could not connect to RabbitMQ; the connection will be retried on the next publish")
		}
		defer func() {
			if err := rabbitPublisher.Close(); err != nil {
				log.WithError(err).Warn("Problem closing the RabbitMQ connection")
			}
		}()
		tablePublisher = rabbitPublisher
	}

	client := router.NewClient(settings.Router)
	synchronizer := mapper.NewSynchronizer(settings, client, tablePublisher, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	syncFunc := func() error {
		_, err := synchronizer.Sync(ctx)
		return err
	}

	if settings.SyncAtStartup {
		if err := syncFunc(); err != nil {
			log.WithError(err).Error("Problem running the initial sync")
		}
	}

	executor, err := mapperutil.NewPeriodicExecutor(
		"static mapping synchronizer",
		syncFunc,
		func() (time.Duration, error) { return settings.SyncInterval, nil },
	)
	if err != nil {
		cancel()
		return err
	}
	// The running cycle is cancelled before waiting for the executor.
	defer func() {
		if executor.Paused() {
			log.Infof("Waiting for the running cycle of the %s to finish", executor.GetName())
		}
		executor.Shutdown()
	}()
	defer cancel()
	log.WithField("interval", executor.GetInterval()).Infof("Scheduled the %s", executor.GetName())

	var envFileChanges <-chan struct{}
	if c.Bool("watch-env-file") {
		watcher, err := mapperutil.NewFileWatcher(c.Path("env-file"))
		if err != nil {
			log.WithError(err).Warn("Could not watch the environment file")
		} else {
			defer watcher.Close()
			envFileChanges = watcher.Changes()
		}
	}

	// Handle signals.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		if sig == syscall.SIGHUP {
			log.Info("Reloading DHCP static mapper after receiving SIGHUP signal")
			return &sighupError{}
		}
		log.Info("Received Ctrl-C signal")
		return &ctrlcError{}
	case <-envFileChanges:
		log.WithField("file", c.Path("env-file")).Info("Reloading DHCP static mapper after the environment file change")
		return &sighupError{}
	}
}

// Loads the environment file into the flags and the process environment.
// The missing file is ignored unless its location was given explicitly.
func loadEnvironmentFile(c *cli.Context) error {
	envFile := c.Path("env-file")
	if _, err := os.Stat(envFile); err != nil {
		if c.IsSet("env-file") {
			return errors.Wrapf(err, "cannot read the '%s' environment file", envFile)
		}
		log.Debug("Loading the configuration from the process environment")
		return nil
	}

	log.WithField("file", envFile).Info("Loading the environment file")
	err := mapperutil.LoadEnvironmentFileToSetter(
		envFile,
		// Loads environment variables into context.
		mapperutil.NewCLIEnvironmentVariableSetter(c),
		// Loads environment variables into process.
		mapperutil.NewProcessEnvironmentVariableSetter(),
	)
	if err != nil {
		return errors.WithMessagef(err, "the '%s' environment file is invalid", envFile)
	}
	return nil
}

// Prepare urfave cli app with all flags defined.
func setupApp(reload bool) *cli.App {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Println(c.App.Version)
	}

	cli.HelpFlag = &cli.BoolFlag{
		Name:    "help",
		Aliases: []string{"h"},
		Usage:   "Show help",
	}

	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "Print the version",
	}

	app := &cli.App{
		Name:     "DHCP static mapper",
		Usage:    "Promotes the dynamic DHCP leases of the router to static mappings",
		Version:  dhcpmapper.Version,
		HelpName: "dhcp-static-mapper",
		Flags: []cli.Flag{
			// Router UI settings
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "The base URL of the router web UI, e.g. https://192.168.1.1",
				EnvVars: []string{"BASE_URL"},
			},
			&cli.StringFlag{
				Name:    "login",
				Usage:   "The router web UI user name",
				EnvVars: []string{"LOGIN"},
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "The router web UI password",
				EnvVars: []string{"PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "client-id",
				Usage:   "The router API key sent as the basic auth user name",
				EnvVars: []string{"CLIENT_ID"},
			},
			&cli.StringFlag{
				Name:    "access-token",
				Usage:   "The router API secret sent as the basic auth password",
				EnvVars: []string{"ACCESS_TOKEN"},
			},
			&cli.BoolFlag{
				Name:    "skip-tls-cert-verification",
				Value:   false,
				Usage:   "Skip TLS certificate verification when connecting to the router",
				EnvVars: []string{"SKIP_TLS_CERT_VERIFICATION"},
			},
			&cli.IntFlag{
				Name:    "request-timeout",
				Value:   int(router.DefaultTimeout / time.Second),
				Usage:   "The router request timeout, in seconds",
				EnvVars: []string{"REQUEST_TIMEOUT_SEC"},
			},
			// Synchronization settings
			&cli.StringFlag{
				Name:    "iface-id",
				Usage:   "The internal identifier of the DHCP interface, e.g. lan",
				EnvVars: []string{"IFACE_ID"},
			},
			&cli.StringFlag{
				Name:    "iface-descr",
				Usage:   "The interface label the leases are filtered by; defaults to the interface identifier",
				EnvVars: []string{"IFACE_DESCR"},
			},
			&cli.StringFlag{
				Name:    "exclude-hostname",
				Usage:   "The hostname whose leases are never promoted, e.g. the router itself",
				EnvVars: []string{"EXCLUDE_HOSTNAME"},
			},
			&cli.IntFlag{
				Name:    "sync-interval",
				Usage:   "How often the leases are synchronized, in seconds",
				EnvVars: []string{"SYNC_INTERVAL_SEC"},
			},
			&cli.BoolFlag{
				Name:    "sync-at-startup",
				Usage:   "Run the first sync immediately instead of waiting for the interval",
				EnvVars: []string{"SYNC_AT_STARTUP"},
			},
			// RabbitMQ settings
			&cli.StringFlag{
				Name:    "send-data-to-rabbitmq",
				Value:   "false",
				Usage:   "Publish the static mapping table to RabbitMQ (yes, true, t or 1 enable it)",
				EnvVars: []string{"SEND_DATA_TO_RABBITMQ"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-host",
				Usage:   "The RabbitMQ host",
				EnvVars: []string{"RABBITMQ_HOST"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-port",
				Usage:   "The RabbitMQ port",
				EnvVars: []string{"RABBITMQ_PORT"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-user",
				Usage:   "The RabbitMQ user name",
				EnvVars: []string{"RABBITMQ_USER"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-password",
				Usage:   "The RabbitMQ password",
				EnvVars: []string{"RABBITMQ_PASSWORD"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-queue",
				Usage:   "The queue bound to the exchange",
				EnvVars: []string{"RABBITMQ_QUEUE"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-exchange",
				Usage:   "The direct exchange the table is published to",
				EnvVars: []string{"RABBITMQ_EXCHANGE"},
			},
			&cli.StringFlag{
				Name:    "rabbitmq-vh",
				Usage:   "The RabbitMQ virtual host",
				EnvVars: []string{"RABBITMQ_VH"},
			},
			// Observability settings
			&cli.StringFlag{
				Name:    "metrics-address",
				Usage:   "The address of the Prometheus metrics listener, e.g. :9119; empty disables it",
				EnvVars: []string{"METRICS_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "profiler-address",
				Usage:   "The address of the pprof endpoint; available only in the builds with the profiler tag",
				EnvVars: []string{"PROFILER_ADDRESS"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "INFO",
				Usage:   "Logging level. Allowed values: are DEBUG, INFO, WARN, ERROR",
				EnvVars: []string{mapperutil.LogLevelEnvironmentVariable},
			},
			// Environment file settings
			&cli.PathFlag{
				Name:  "env-file",
				Usage: "Environment file location; it is skipped if it doesn't exist",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "watch-env-file",
				Usage: "Reload the mapper when the environment file changes",
			},
		},
		Before: func(c *cli.Context) error {
			if err := loadEnvironmentFile(c); err != nil {
				return err
			}
			// Reconfigures logging using the new level.
			os.Setenv(mapperutil.LogLevelEnvironmentVariable, c.String("log-level"))
			mapperutil.SetupLogging()
			return nil
		},
		Action: func(c *cli.Context) error {
			return runMapper(c, reload)
		},
	}

	return app
}

// Main dhcp-static-mapper function.
func main() {
	reload := false
	// The variables loaded from the environment file are dropped before
	// each reload so that the file changes take effect.
	restoreEnvironment := mapperutil.CreateEnvironmentRestorePoint()
	for {
		restoreEnvironment()
		mapperutil.SetupLogging()
		app := setupApp(reload)
		err := app.Run(os.Args)
		var ctrlc *ctrlcError
		var sighup *sighupError
		switch {
		case err == nil:
			return
		case errors.As(err, &ctrlc):
			// Ctrl-C pressed.
			os.Exit(130)
		case errors.As(err, &sighup):
			// SIGHUP signal received or the environment file changed.
			reload = true
		default:
			// Error occurred.
			log.Fatal(err)
			return
		}
	}
}
