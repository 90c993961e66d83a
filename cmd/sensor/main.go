// Command sensor is the passive network sensor's daemon entry point,
// per spec §6's CLI section: parse flags and the configuration file,
// wire the configured analyzers into the host, daemonize, and run
// until SIGTERM.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/levigross/netSensor/internal/addr"
	"github.com/levigross/netSensor/internal/analyzer/httpflow"
	"github.com/levigross/netSensor/internal/analyzer/pjl"
	"github.com/levigross/netSensor/internal/analyzer/pps"
	"github.com/levigross/netSensor/internal/analyzer/udptracker"
	"github.com/levigross/netSensor/internal/config"
	"github.com/levigross/netSensor/internal/geoutil"
	"github.com/levigross/netSensor/internal/host"
	"github.com/levigross/netSensor/internal/logging"
	"github.com/levigross/netSensor/internal/mailer"
	"github.com/levigross/netSensor/internal/metrics"
	"github.com/levigross/netSensor/internal/pidfile"
	"github.com/levigross/netSensor/internal/writer"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, pidPath string
	fs := flag.NewFlagSet("sensor", flag.ContinueOnError)
	fs.StringVar(&configPath, "c", "sensor.conf", "configuration file path")
	fs.StringVar(&pidPath, "p", "/var/run/netSensor.pid", "PID file path")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}

	isChild, parentExitCode, err := pidfile.Daemonize()
	if err != nil {
		fmt.Fprintln(os.Stderr, "sensor:", err)
		return 1
	}
	if !isChild {
		return parentExitCode
	}

	log := logging.NewConsole()

	cfg, err := config.ParseFile(configPath)
	if err != nil {
		log.Error("load configuration", zap.Error(err))
		return 1
	}

	loggingOn, err := cfg.Bool("logging", false)
	if err != nil {
		log.Error("parse configuration", zap.Error(err))
		return 1
	}
	if loggingOn {
		real, err := logging.New(cfg.GetDefault("log", ""), true)
		if err != nil {
			fmt.Fprintln(os.Stderr, "sensor: build logger:", err)
			return 1
		}
		log = real
	}
	defer log.Sync()

	iface, ok := cfg.Get("interface")
	if !ok {
		log.Error("no interface specified")
		return 1
	}
	flushInterval, err := cfg.Int("flushInterval", 0)
	if err != nil || flushInterval <= 0 {
		log.Error("no valid flushInterval specified")
		return 1
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	h := host.New(iface, time.Duration(flushInterval)*time.Second, log)

	for _, name := range cfg.Modules() {
		a, err := buildAnalyzer(name, configPath, log)
		if err != nil {
			log.Error("build analyzer", zap.String("module", name), zap.Error(err))
			return 1
		}
		if err := h.Register(a); err != nil {
			log.Error("register analyzer", zap.String("module", name), zap.Error(err))
			return 1
		}
	}

	if err := h.Start(); err != nil {
		log.Error("start host", zap.Error(err))
		return 1
	}

	if _, err := pidfile.Write(pidPath); err != nil {
		log.Error("write pid file", zap.Error(err))
		return 1
	}
	if err := pidfile.SignalReady(); err != nil {
		log.Warn("signal readiness", zap.Error(err))
	}

	sig := make(chan os.Signal, 1)
	pidfile.NotifyShutdown(sig)
	<-sig

	h.Stop()
	if err := pidfile.Remove(pidPath); err != nil {
		log.Warn("remove pid file", zap.Error(err))
	}
	return 0
}

// moduleConfig locates the per-analyzer configuration file, grounded in
// the original sensor's "modules/<name>" module-config convention
// (there: also the shared-object path; here, purely a config file in
// the modules/ directory next to the main configuration).
func moduleConfig(configPath, name string) (*config.File, error) {
	path := filepath.Join(filepath.Dir(configPath), "modules", name)
	return config.ParseFile(path)
}

func buildAnalyzer(name, configPath string, log *zap.Logger) (host.Analyzer, error) {
	mc, err := moduleConfig(configPath, name)
	if err != nil {
		return nil, err
	}

	filterExpr := mc.GetDefault("filter", "")
	timeout, _ := mc.Int("timeout", 300)
	maxSessions, _ := mc.Int("maxSessions", 4096)
	dataDir := mc.GetDefault("data", "")

	switch name {
	case "http", "httpflow":
		wr, err := openWriter(dataDir, "http", timeout, httpflow.Serialize, log)
		if err != nil {
			return nil, err
		}
		if filterExpr == "" {
			filterExpr = "tcp"
		}
		return httpflow.New(name, filterExpr, maxSessions, int64(timeout), wr, log), nil

	case "udptracker", "bittorrent":
		scrapeEnabled, _ := mc.Bool("scrapeEnabled", false)
		m := buildMailer(mc)
		return udptracker.New(name, maxSessions, int64(timeout), scrapeEnabled, m, log), nil

	case "pjl":
		wr, err := openWriter(dataDir, "pjl", timeout, pjl.Serialize, log)
		if err != nil {
			return nil, err
		}
		if filterExpr == "" {
			filterExpr = "tcp"
		}
		return pjl.New(name, filterExpr, maxSessions, int64(timeout), wr, log), nil

	case "pps":
		threshold, _ := mc.Int("threshold", 1000)
		mailInterval, _ := mc.Int("mailInterval", 300)
		numPackets, _ := mc.Int("numPackets", 0)
		internal, err := addr.NewCIDRSet(mc.All("addresses"))
		if err != nil {
			return nil, err
		}
		var geo *geoutil.DB
		if path := mc.GetDefault("geoDatabase", ""); path != "" {
			geo, err = geoutil.Open(path)
			if err != nil {
				return nil, err
			}
		}
		cfg := pps.Config{
			Threshold:    float64(threshold),
			MailInterval: time.Duration(mailInterval) * time.Second,
			Internal:     internal,
			NumPackets:   numPackets,
			Iface:        mc.GetDefault("interface", ""),
		}
		return pps.New(name, cfg, buildMailer(mc), geo, log), nil

	default:
		return nil, fmt.Errorf("sensor: unknown module %q", name)
	}
}

func openWriter(dataDir, baseName string, idleTimeout int, serializer writer.Serializer, log *zap.Logger) (*writer.Writer, error) {
	if dataDir == "" {
		return nil, nil
	}
	return writer.New(dataDir, baseName, int64(idleTimeout), serializer, log)
}

// buildMailer constructs a mailer.Mailer from the SMTP-alert keys of
// spec §6, or nil if no server is configured for this module.
func buildMailer(mc *config.File) *mailer.Mailer {
	server := mc.GetDefault("smtpServer", "")
	if server == "" {
		return nil
	}
	auth, _ := mc.Bool("smtpAuth", false)
	cfg := mailer.Config{
		Server:        server,
		Auth:          auth,
		User:          mc.GetDefault("smtpUser", ""),
		Password:      mc.GetDefault("smtpPassword", ""),
		SenderName:    mc.GetDefault("senderName", ""),
		SenderAddress: mc.GetDefault("senderAddress", ""),
		Recipients:    mc.All("recipient"),
	}
	return mailer.New(cfg)
}
