package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/v2xstreams/config"
	"github.com/c360/v2xstreams/engine"
	"github.com/c360/v2xstreams/gateway"
	gatewayhttp "github.com/c360/v2xstreams/gateway/http"
	"github.com/c360/v2xstreams/health"
	"github.com/c360/v2xstreams/input/tcp"
	"github.com/c360/v2xstreams/metric"
	"github.com/c360/v2xstreams/natsclient"
	"github.com/c360/v2xstreams/output"
	"github.com/c360/v2xstreams/output/mqtt"
	"github.com/c360/v2xstreams/output/natsmirror"
	"github.com/c360/v2xstreams/output/websocket"
)

const (
	healthInterval = 10 * time.Second
	natsClientName = "nats-client"
)

// app holds everything the binary runs
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	engine        *engine.Engine
	gateway       *gatewayhttp.Gateway
	metricsServer *metric.Server
	natsClient    *natsclient.Client
	mirror        *natsmirror.Mirror

	serveErr chan error
}

// newApp builds the engine and attaches the sinks enabled in cfg. It
// connects to NATS when the mirror is enabled; nothing else runs until start.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		serveErr: make(chan error, 1),
	}
	a.monitor = health.NewMonitor(a.registry.CoreMetrics())

	sweep, err := cfg.Sweep.Duration()
	if err != nil {
		return nil, fmt.Errorf("sweep interval: %w", err)
	}

	source := tcp.DefaultConfig()
	source.Host = cfg.Source.Host
	source.Port = cfg.Source.Port
	source.ConnectTimeout = cfg.Source.ConnectTimeout.Duration()
	source.AutoStart = cfg.Source.AutoStart

	a.engine, err = engine.New(engine.Config{
		Source:        source,
		SweepInterval: sweep,
	}, engine.Deps{
		Logger:          logger,
		Metrics:         a.registry.CoreMetrics(),
		MetricsRegistry: a.registry,
	})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	if err := a.attachSinks(ctx); err != nil {
		a.closeNATS(ctx)
		return nil, err
	}

	if cfg.HTTP.Enabled {
		gwCfg := gateway.DefaultConfig()
		gwCfg.Port = cfg.HTTP.Port
		gwCfg.RateLimit = cfg.HTTP.RateLimit
		gwCfg.Burst = cfg.HTTP.Burst
		gwCfg.EnableCORS = len(cfg.HTTP.CORSOrigins) > 0
		gwCfg.CORSOrigins = cfg.HTTP.CORSOrigins

		a.gateway, err = gatewayhttp.NewGateway(gwCfg, a.engine, gatewayhttp.Deps{
			Logger: logger.With("component", gatewayhttp.Name),
			Health: a.health,
		})
		if err != nil {
			a.closeNATS(ctx)
			return nil, fmt.Errorf("create http gateway: %w", err)
		}
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
	}

	for name, c := range a.engine.Components() {
		a.monitor.Register(name, c)
	}
	if a.gateway != nil {
		a.monitor.Register(gatewayhttp.Name, a.gateway)
	}
	if a.natsClient != nil {
		a.monitor.Register(natsClientName, a.natsClient)
	}
	return a, nil
}

func (a *app) sinkDeps(name string) output.Deps {
	return output.Deps{
		Logger:          a.logger.With("component", name),
		Metrics:         a.registry.CoreMetrics(),
		MetricsRegistry: a.registry,
	}
}

func (a *app) attachSinks(ctx context.Context) error {
	cfg := a.cfg

	if cfg.WebSocket.Enabled {
		ws := websocket.NewOutput(websocket.Config{
			Port:      cfg.WebSocket.Port,
			Path:      cfg.WebSocket.Path,
			QueueSize: cfg.WebSocket.QueueSize,
		}, a.engine.Store().Snapshot, a.sinkDeps(websocket.Name))
		if err := a.engine.AddSink(ctx, ws); err != nil {
			return fmt.Errorf("add websocket sink: %w", err)
		}
	}

	if cfg.MQTT.Enabled {
		out, err := mqtt.New(mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            byte(cfg.MQTT.QoS),
			Retain:         cfg.MQTT.Retain,
			ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
			QueueSize:      cfg.MQTT.QueueSize,
		}, a.sinkDeps(mqtt.Name))
		if err != nil {
			return fmt.Errorf("create mqtt sink: %w", err)
		}
		if err := a.engine.AddSink(ctx, out); err != nil {
			return fmt.Errorf("add mqtt sink: %w", err)
		}
	}

	if cfg.NATS.Enabled {
		if err := a.attachMirror(ctx); err != nil {
			return err
		}
	}
	return nil
}

// attachMirror connects to NATS, opens the state bucket when one is
// configured and adds the mirror sink
func (a *app) attachMirror(ctx context.Context) error {
	cfg := a.cfg.NATS

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(a.logger.With("component", "nats-client")),
		natsclient.WithMetrics(a.registry.CoreMetrics()),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Duration()),
		natsclient.WithTimeout(cfg.ConnectTimeout.Duration()),
		natsclient.WithCircuitBreakerThreshold(int32(cfg.CircuitThreshold)),
		natsclient.WithMaxBackoff(cfg.MaxBackoff.Duration()),
		natsclient.WithName(fmt.Sprintf("%s-%s", appName, a.cfg.InstanceName())),
	}
	if d := cfg.PingInterval.Duration(); d > 0 {
		opts = append(opts, natsclient.WithPingInterval(d))
	}
	if d := cfg.DrainTimeout.Duration(); d > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(d))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(cfg.URLs, opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	// Connection changes reach the monitor between polls
	client.OnHealthChange(func(healthy bool) {
		a.monitor.Update(natsClientName, health.FromComponent(natsClientName, client))
		if !healthy {
			a.logger.Warn("NATS connection lost, mirror events are dropped until it returns")
		}
	})

	a.logger.Info("Connecting to NATS", "url", client.URL())
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsClient = client

	var state natsmirror.StateStore
	if cfg.Bucket != "" {
		bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      cfg.Bucket,
			Description: "live V2X entities",
			History:     1,
		})
		if err != nil {
			return fmt.Errorf("open state bucket %s: %w", cfg.Bucket, err)
		}
		state = client.NewKVStore(bucket)
	}

	mirror, err := natsmirror.New(natsmirror.Config{
		SubjectPrefix: cfg.SubjectPrefix,
		InstanceID:    a.cfg.InstanceName(),
	}, client, state, a.sinkDeps(natsmirror.Name))
	if err != nil {
		return fmt.Errorf("create nats mirror: %w", err)
	}
	if err := a.engine.AddSink(ctx, mirror); err != nil {
		return fmt.Errorf("add nats mirror: %w", err)
	}
	a.mirror = mirror
	return nil
}

// health refreshes every component and aggregates the result
func (a *app) health() health.Status {
	a.monitor.Refresh()
	return a.monitor.AggregateHealth(appName)
}

// start runs the pipeline and the servers. Servers that fail after start
// report on serveErr.
func (a *app) start(ctx context.Context) error {
	if a.mirror != nil {
		waitCtx, cancel := context.WithTimeout(ctx, a.cfg.NATS.ConnectTimeout.Duration())
		err := a.natsClient.WaitForConnection(waitCtx)
		cancel()
		if err != nil {
			a.logger.Warn("NATS not connected, skipping state bucket sync", "error", err)
		} else if err := a.mirror.Sync(ctx, a.engine.Store().Snapshot()); err != nil {
			// Purges bucket keys left behind by a previous run
			a.logger.Warn("State bucket sync failed", "error", err)
		}
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(); err != nil {
				a.report(fmt.Errorf("metrics server: %w", err))
			}
		}()
		a.logger.Info("Metrics server started", "address", a.metricsServer.Address())
	}

	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	if a.gateway != nil {
		if err := a.gateway.Initialize(); err != nil {
			return fmt.Errorf("initialize http gateway: %w", err)
		}
		if err := a.gateway.Start(ctx); err != nil {
			return fmt.Errorf("start http gateway: %w", err)
		}
		a.logger.Info("HTTP gateway started", "address", a.gateway.Addr())
	}

	go a.monitor.Watch(ctx, healthInterval)
	return nil
}

func (a *app) report(err error) {
	select {
	case a.serveErr <- err:
	default:
	}
}

// stop shuts everything down in reverse start order
func (a *app) stop(ctx context.Context, timeout time.Duration) error {
	var errs []error
	if a.gateway != nil {
		if err := a.gateway.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.engine.Stop(timeout); err != nil {
		errs = append(errs, err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeNATS(ctx); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

func (a *app) closeNATS(ctx context.Context) error {
	if a.natsClient == nil {
		return nil
	}
	return a.natsClient.Close(ctx)
}
