package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("rcdrive v%s\n", version)
	fmt.Println("Keyboard remote-control daemon for a websocket-driven vehicle")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  rcdrive [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Reads operator keys (Linux input devices, GPIO buttons, IPC) and drives")
	fmt.Println("  the vehicle over a websocket: one command token per frame, re-sent every")
	fmt.Println("  tick while a direction is held, STOP once when everything is released.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional)")
	fmt.Println()
	fmt.Println("  -host string")
	fmt.Println("        Vehicle IPv4 address (overrides vehicle.host)")
	fmt.Println()
	fmt.Println("  -port int")
	fmt.Printf("        Vehicle websocket port (default %d)\n", defaultVehiclePort)
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Printf("        Linux input event device; repeat for several (default %q)\n", defaultInputDev)
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("DEFAULT KEYS:")
	fmt.Println("  arrows drive, SPACE horn, X ceiling, D auto-light, ESC disconnect, R reconnect")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  rcdrive -host 192.168.4.1")
	fmt.Println("  rcdrive -config /etc/rcdrive.yaml -log-level debug")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to input devices (run as root or add user to 'input' group)")
	fmt.Println()
}

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		host        = flag.String("host", "", "Vehicle IPv4 address")
		port        = flag.Int("port", defaultVehiclePort, "Vehicle websocket port")
		logLevelStr = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
		devices     stringList
	)
	flag.Var(&devices, "input-device", "Linux input event device (repeatable)")

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var ov FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			ov.Host = host
		case "port":
			ov.Port = port
		case "log-level":
			ov.LogLevel = logLevelStr
		case "input-device":
			ov.InputDevices = devices
		}
	})
	ov.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(logLevel, cfg.Logging.Journal)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("rcdrive stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

// newStatusPublisher connects the MQTT status publisher.
var newStatusPublisher = func(cfg MQTTConfig, logger *slog.Logger) (StatusPublisher, error) {
	return newMQTTPublisher(cfg, logger)
}

// run wires the daemon, its input surfaces and its status surfaces under one
// errgroup. It returns when ctx is canceled or a component fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	// Central event bus: every input surface and link notification feeds it.
	events := make(chan Event, 64)

	link := NewConnectionManager(cfg.ToConnectionOptions(func(session uint64, st ConnectionState, err error) {
		ev := ConnectionObserved{State: st, Err: err, Session: session, At: systemClock{}.Now()}
		select {
		case events <- ev:
		case <-gctx.Done():
		}
	}), logger)

	keymapNames := cfg.Input.Keymap
	if len(keymapNames) == 0 {
		keymapNames = DefaultKeymap()
	}
	km, err := BuildKeyMap(keymapNames)
	if err != nil {
		return fmt.Errorf("keymap: %w", err)
	}

	var sinks []chan<- StateBroadcast

	// Status websocket.
	var wsSrc chan StateBroadcast
	if cfg.Status.Enabled {
		wsSrc = make(chan StateBroadcast, 64)
		sinks = append(sinks, wsSrc)
	}

	// GPIO buttons and LED.
	var gpio *gpioSurface
	var ledSrc chan StateBroadcast
	if cfg.GPIO.Enabled {
		gs, err := openGPIO(cfg.GPIO, func(e Event) {
			select {
			case events <- e:
			case <-gctx.Done():
			}
		}, logger)
		if err != nil {
			return err
		}
		defer gs.Close()
		gpio = gs
		ledSrc = make(chan StateBroadcast, 16)
		sinks = append(sinks, ledSrc)
	}

	// MQTT status. A broker that is down at startup disables publishing
	// rather than the daemon. Opened last among the surfaces that can fail.
	var mqttSrc chan StateBroadcast
	var pub StatusPublisher
	pubRunning := false
	defer func() {
		if pub != nil && !pubRunning {
			_ = pub.Close()
		}
	}()
	if cfg.MQTT.Enabled {
		p, err := newStatusPublisher(cfg.MQTT, logger)
		if err != nil {
			logger.Error("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			pub = p
			mqttSrc = make(chan StateBroadcast, 64)
			sinks = append(sinks, mqttSrc)
		}
	}

	logger.Info("starting rcdrive",
		"version", version,
		"vehicle", vehicleURL(cfg.Vehicle.Host, cfg.Vehicle.Port),
		"input_devices", cfg.Input.Devices,
		"ipc", cfg.IPC.SocketPath,
		"status_ws", cfg.Status.Enabled,
		"mqtt", pub != nil,
		"gpio", gpio != nil)

	g.Go(func() error {
		runDaemon(gctx, events, link, NewSessionState(), DaemonOptions{
			Host:   cfg.Vehicle.Host,
			Engine: cfg.ToEngineConfig(),
			Sinks:  sinks,
		}, logger)
		return nil
	})

	g.Go(func() error {
		return runKeyboardInput(gctx, cfg.Input.Devices, km, events, logger)
	})

	g.Go(func() error {
		return runIPCServer(gctx, cfg.IPC.SocketPath, events, logger)
	})

	if wsSrc != nil {
		srv := NewStatusServer(logger, events, StatusServerConfig{})
		mux := http.NewServeMux()
		srv.Register(mux, cfg.Status.Path)

		g.Go(func() error {
			srv.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, srv.Hub(), wsSrc, logger)
			return nil
		})
		g.Go(func() error {
			return runStatusServer(gctx, cfg.Status.Listen, mux, logger)
		})
	}

	if mqttSrc != nil {
		pubRunning = true
		g.Go(func() error {
			runStatusPublisher(gctx, pub, mqttSrc, logger)
			return nil
		})
	}

	if ledSrc != nil {
		g.Go(func() error {
			gpio.runLED(gctx, ledSrc)
			return nil
		})
	}

	return g.Wait()
}
