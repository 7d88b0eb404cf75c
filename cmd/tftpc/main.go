package main

import (
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/Pablu23/tftpc/internal/client"
	"github.com/Pablu23/tftpc/internal/common"
	"github.com/Pablu23/tftpc/internal/config"
	"github.com/Pablu23/tftpc/internal/metrics"
	"github.com/Pablu23/tftpc/internal/server"
	"github.com/Pablu23/tftpc/internal/storage"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		ForceColors: true,
	})

	if err := newApp().Run(os.Args); err != nil {
		log.WithError(err).Fatal("tftpc failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tftpc",
		Usage: "TFTP client for octet mode transfers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file"},
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "server host"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "server port"},
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "local file folder"},
			&cli.DurationFlag{Name: "timeout", Usage: "wait per reply before retransmitting, 0 waits forever"},
			&cli.IntFlag{Name: "retries", Usage: "retransmissions before a transfer fails"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log every packet"},
			&cli.StringFlag{Name: "metrics-file", Usage: "write Prometheus metrics to this file on exit"},
		},
		Commands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "read a file from the server",
				ArgsUsage: "<filename>",
				Action:    getAction,
			},
			{
				Name:      "put",
				Usage:     "write a local file to the server",
				ArgsUsage: "<filename>",
				Action:    putAction,
			},
			{
				Name:   "shell",
				Usage:  "interactive menu",
				Action: shellAction,
			},
			{
				Name:  "serve",
				Usage: "run a TFTP server on the local folder",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Value: "0.0.0.0", Usage: "address to listen on"},
					&cli.BoolFlag{Name: "allow-overwrite", Usage: "let write requests replace existing files"},
				},
				Action: serveAction,
			},
		},
	}
}

// loadConfig layers the config file, when given, under explicitly set flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("server") {
		cfg.Server = c.String("server")
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("dir") {
		cfg.Dir = c.String("dir")
	}
	if c.IsSet("timeout") {
		cfg.Timeout = config.Duration{Duration: c.Duration("timeout")}
	}
	if c.IsSet("retries") {
		retries := c.Int("retries")
		cfg.Retries = &retries
	}
	if c.IsSet("verbose") {
		cfg.Verbose = c.Bool("verbose")
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type session struct {
	cfg       *config.Config
	store     *storage.Store
	logs      *client.LogObserver
	collector *metrics.Collector
	client    *client.Client
}

func newSession(cfg *config.Config, extra ...client.Observer) (*session, error) {
	store, err := storage.New(cfg.Dir)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		store:     store,
		logs:      client.NewLogObserver(log.StandardLogger(), cfg.Verbose),
		collector: metrics.New(),
	}

	observers := append([]client.Observer{s.logs, s.collector}, extra...)
	s.client, err = client.New(func(o *client.Options) {
		o.Server = cfg.Server
		o.Port = cfg.Port
		o.Mode = cfg.Mode
		o.Timeout = cfg.Timeout.Duration
		if cfg.Retries != nil {
			o.Retries = *cfg.Retries
		}
		o.Storage = store
		o.Observer = client.MultiObserver(observers...)
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *session) close() error {
	if s.cfg.MetricsFile == "" {
		return nil
	}
	return errors.Wrap(s.collector.WriteTextfile(s.cfg.MetricsFile), "could not write metrics")
}

// transferFailed exits with status 1 without printing; the observer has
// already logged the failure.
func transferFailed() error {
	return cli.Exit("", 1)
}

func filenameArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("%s expects exactly one filename", c.Command.Name)
	}
	return c.Args().First(), nil
}

func logResult(res *client.Result) {
	log.WithFields(log.Fields{
		"File":        res.Filename,
		"Size":        units.HumanSize(float64(res.Bytes)),
		"Retransmits": res.Retransmits,
		"Duration":    res.Duration.Round(time.Millisecond),
		"BLAKE2b":     hex.EncodeToString(res.Digest),
	}).Infof("%s finished", res.Direction)
}

func getAction(c *cli.Context) (err error) {
	filename, err := filenameArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()

	res, err := s.client.ReadFile(filename)
	if err != nil {
		return transferFailed()
	}
	logResult(res)
	return nil
}

func putAction(c *cli.Context) (err error) {
	filename, err := filenameArg(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	store, err := storage.New(cfg.Dir)
	if err != nil {
		return err
	}
	src, err := store.Open(filename)
	if err != nil {
		return err
	}
	size := src.Size()
	if err := src.Close(); err != nil {
		return err
	}

	bar := pb.StartNew(int(size))
	progress := client.ObserverFunc(func(ev client.Event) {
		if ev.Kind == client.EventPacketSent && ev.Opcode == common.DATA {
			bar.Add(ev.Length)
		}
	})

	s, err := newSession(cfg, progress)
	if err != nil {
		bar.Finish()
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()

	res, err := s.client.WriteFile(filename)
	bar.Finish()
	if err != nil {
		return transferFailed()
	}
	logResult(res)
	return nil
}

func shellAction(c *cli.Context) (err error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	s, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.close()) }()

	return newShell(s, os.Stdin, os.Stdout).run()
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	srv, err := server.New(func(o *server.Options) {
		o.Address = c.String("listen")
		o.Port = cfg.Port
		o.Datapath = cfg.Dir
		if cfg.Timeout.Duration > 0 {
			o.Timeout = cfg.Timeout.Duration
		}
		if cfg.Retries != nil {
			o.Retries = *cfg.Retries
		}
		o.AllowOverwrite = c.Bool("allow-overwrite")
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return errors.Wrap(err, "could not create served folder")
	}

	handleShutdown(srv)
	return srv.ListenAndServe()
}

func handleShutdown(srv *server.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		if err := srv.Close(); err != nil {
			log.WithError(err).Error("Could not close server")
		}
	}()
}
