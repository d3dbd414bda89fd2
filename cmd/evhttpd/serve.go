package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	evhttp "github.com/badu/evhttp"
	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/config"
	"github.com/badu/evhttp/internal/logging"
	"github.com/badu/evhttp/internal/workerpool"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve HTTP/WebSocket traffic per the given config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(configPath)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "evhttpd.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(path string) error {
	conf, err := config.LoadPath(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	var spec config.ServerSpec
	if err := conf.UnpackChild("server", &spec); err != nil {
		return fmt.Errorf("unpack server config: %w", err)
	}

	var logOpts logging.Options
	if conf.Has("logging") {
		if err := conf.UnpackChild("logging", &logOpts); err != nil {
			return fmt.Errorf("unpack logging config: %w", err)
		}
	} else {
		logOpts = logging.Options{Stdout: true, Level: string(logging.LevelInfo)}
	}
	if spec.DebugMode {
		logOpts.Level = string(logging.LevelDebug)
	}
	logging.SetOptions(logOpts)

	cfg := serverConfig(spec, logOpts)

	if workerpool.IsWorkerProcess() {
		return runWorker(cfg)
	}

	var wp config.WorkerPoolSpec
	if conf.Has("worker_pool") {
		if err := conf.UnpackChild("worker_pool", &wp); err != nil {
			return fmt.Errorf("unpack worker_pool config: %w", err)
		}
	}
	if wp.Enabled {
		return runMaster(cfg, wp)
	}
	return runStandalone(cfg)
}

func serverConfig(spec config.ServerSpec, logOpts logging.Options) evhttp.Config {
	return evhttp.Config{
		Host: spec.Host,
		Port: spec.Port,

		TLSEnable: spec.TLSEnable,
		TLSCert:   spec.TLSCert,
		TLSKey:    spec.TLSKey,

		PublicPath: spec.PublicPath,

		RequestTimeout:    spec.RequestTimeout,
		ConnectionTimeout: spec.ConnectionTimeout,
		MaxConnections:    spec.MaxConnections,
		MaxRequestSize:    spec.MaxRequestSize,
		BufferSize:        spec.BufferSize,

		KeepAliveEnable:      spec.KeepAliveEnable,
		KeepAliveTimeout:     spec.KeepAliveTimeout,
		KeepAliveMaxRequests: spec.KeepAliveMaxRequests,

		StaticCacheEnable:        spec.StaticCacheEnable,
		StaticCacheSize:          spec.StaticCacheSize,
		StaticCacheMaxEntries:    spec.StaticCacheMaxEntries,
		StaticCacheMaxEntryBytes: spec.StaticCacheMaxEntryBytes,

		RateLimitEnable:   spec.RateLimitEnable,
		RateLimitRequests: spec.RateLimitRequests,
		RateLimitWindow:   spec.RateLimitWindow,

		MaxAcceptsPerCycle: spec.MaxAcceptsPerCycle,
		DebugMode:          spec.DebugMode,

		TempFileDir: spec.TempFileDir,

		Logging: logOpts,
	}
}

// runStandalone runs a single-process server: bind, then drive the
// polled interface on a tick loop until a terminate signal arrives.
func runStandalone(cfg evhttp.Config) error {
	srv := evhttp.New(cfg)
	if !srv.Start() {
		return fmt.Errorf("server failed to start on %s:%d", cfg.Host, cfg.Port)
	}
	logging.Infof("serving on %s:%d", cfg.Host, cfg.Port)
	tickLoop(srv)
	return nil
}

// runMaster forks and supervises the worker pool; the master process
// itself serves no traffic.
func runMaster(cfg evhttp.Config, wp config.WorkerPoolSpec) error {
	srv := evhttp.New(cfg)
	err := srv.AttachWorkerPool(workerpool.Config{
		Workers:      wp.Workers,
		Architecture: workerpool.Architecture(wp.Architecture),
		Balancer:     workerpool.BalancerKind(wp.Balancer),
		AutoRestart:  wp.AutoRestart,
		RestartDelay: wp.RestartDelay,
	})
	if err != nil {
		return err
	}
	logging.Infof("worker pool master supervising %d workers", wp.Workers)

	<-workerpool.TerminateSignal()
	logging.Infof("master terminating")
	srv.Shutdown(10 * time.Second)
	return nil
}

// runWorker is the re-exec'd child process path: adopt the role the
// master's environment describes, then tick like a standalone server.
func runWorker(cfg evhttp.Config) error {
	rt, ok := workerpool.LoadWorkerRuntime()
	if !ok {
		return fmt.Errorf("worker environment incomplete")
	}

	srv := evhttp.New(cfg)
	srv.SetWorkerID(rt.ID)

	switch rt.Architecture {
	case workerpool.ArchitectureSharedListen:
		ln, err := rt.Listen(context.Background())
		if err != nil {
			return fmt.Errorf("worker %d bind shared port: %w", rt.ID, err)
		}
		if !srv.StartWithListener(ln) {
			return fmt.Errorf("worker %d failed to start", rt.ID)
		}

	case workerpool.ArchitectureCentralized:
		cc, err := rt.ControlConn()
		if err != nil {
			return fmt.Errorf("worker %d open control channel: %w", rt.ID, err)
		}
		srv.RegisterTask(workerpool.NewFDReceiveTask(cc, srv))
		stop := make(chan struct{})
		defer close(stop)
		go workerpool.RunHeartbeat(cc, srv, stop)

	default:
		return fmt.Errorf("worker %d: unknown architecture %q", rt.ID, rt.Architecture)
	}

	logging.Infof("worker %d running (%s)", rt.ID, rt.Architecture)
	tickLoop(srv)
	return nil
}

// tickLoop drives the polled interface. Requests the engine's own
// handlers (static files, WebSocket, rate limiting) did not claim get
// a plain-text 404 — this binary carries no application routes of its
// own.
func tickLoop(srv *evhttp.Server) {
	term := workerpool.TerminateSignal()
	for {
		select {
		case <-term:
			logging.Infof("shutting down")
			if !srv.Shutdown(10 * time.Second) {
				logging.Warnf("drain deadline expired, connections dropped")
			}
			return
		default:
		}

		if !srv.HasRequest() {
			time.Sleep(time.Millisecond)
			continue
		}
		req, ref, ok := srv.GetRequest()
		if !ok {
			continue
		}
		h := make(hdr.Header)
		h.Set(hdr.ContentType, "text/plain; charset=utf-8")
		srv.Respond(ref, &evhttp.Response{
			Status: 404,
			Header: h,
			Body:   []byte("404 Not Found: " + req.Path),
		})
	}
}
