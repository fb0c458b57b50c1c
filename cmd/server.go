package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/jeffypooo/iotemitter/internal/config"
	"github.com/jeffypooo/iotemitter/internal/emitter"
	"github.com/jeffypooo/iotemitter/internal/metrics"
	"github.com/jeffypooo/iotemitter/internal/registry"
	"github.com/jeffypooo/iotemitter/internal/scenario"
	"github.com/jeffypooo/iotemitter/internal/web"
)

type app struct {
	cfg       config.Config
	runID     string
	startedAt time.Time
	host      *metrics.HostInfo
	reg       *registry.Registry
	collector *emitter.Collector
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	runID := uuid.NewString()
	logger := newLogger(cfg, runID)

	a, err := newApp(cfg, runID, metrics.NewSystemSampler(), logger)
	if err != nil {
		logger.Fatalj(log.JSON{"event": "startup_failed", "error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if hi, err := metrics.LookupHost(ctx); err != nil {
		logger.Warnj(log.JSON{"event": "host_info_failed", "error": err.Error()})
	} else {
		a.host = &hi
	}

	// bind before the loop starts so a taken port fails the process
	e, err := a.listen(logger)
	if err != nil {
		logger.Fatalj(log.JSON{"event": "listen_failed", "addr": cfg.ListenAddr, "error": err.Error()})
	}
	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalj(log.JSON{"event": "http_server_failed", "error": err.Error()})
		}
	}()

	logger.Infoj(log.JSON{
		"event":     "emitter_started",
		"device_id": cfg.DeviceID,
		"room":      cfg.Room,
		"addr":      e.Listener.Addr().String(),
		"mode":      string(cfg.Mode),
		"interval":  cfg.Interval().String(),
	})

	sched := emitter.NewScheduler(a.collector, emitter.SystemClock{}, cfg.Interval(), logger)
	runErr := sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warnj(log.JSON{"event": "http_shutdown_failed", "error": err.Error()})
	}

	if runErr != nil {
		logger.Errorj(log.JSON{"event": "emitter_stopped", "error": runErr.Error()})
		os.Exit(1)
	}
	logger.Infoj(log.JSON{"event": "emitter_stopped"})
}

func newLogger(cfg config.Config, runID string) *log.Logger {
	logger := log.New("iot-emitter")
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	logger.SetLevel(lvl)
	logger.SetHeader(`{"time":"${time_rfc3339_nano}","level":"${level}","prefix":"${prefix}","run_id":"` + runID + `"}`)
	return logger
}

func newApp(cfg config.Config, runID string, sampler metrics.Sampler, logger *log.Logger) (*app, error) {
	reg := registry.New()
	if err := registry.DeclareDeviceMetrics(reg, cfg.DeviceID); err != nil {
		return nil, fmt.Errorf("declaring metrics: %w", err)
	}
	selector, err := scenario.NewSelector(cfg.Mode)
	if err != nil {
		return nil, err
	}
	collector, err := emitter.NewCollector(emitter.Options{
		DeviceID: cfg.DeviceID,
		Room:     cfg.Room,
		Sampler:  sampler,
		Selector: selector,
		Hazard:   scenario.DefaultHazard(),
		Entropy:  scenario.NewSource(cfg.Seed),
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		runID:     runID,
		startedAt: time.Now(),
		reg:       reg,
		collector: collector,
	}, nil
}

// listen binds the configured address and returns a server ready to Start on it.
func (a *app) listen(logger *log.Logger) (*echo.Echo, error) {
	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", a.cfg.ListenAddr, err)
	}
	e := a.routes(logger)
	e.Listener = ln
	return e, nil
}

func (a *app) routes(logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger = logger
	e.GET("/", a.rootHandler)
	e.GET("/metrics", echo.WrapHandler(a.reg.Handler()))
	e.GET("/healthz", a.healthHandler)
	e.GET("/api/cycles/sse", a.apiCyclesSSEHandler)
	return e
}

func (a *app) rootHandler(c echo.Context) error {
	intervalParam := c.QueryParam("interval")
	if intervalParam == "" {
		intervalParam = a.cfg.Interval().String()
	}

	points, err := a.reg.Snapshot()
	if err != nil {
		return c.String(http.StatusInternalServerError, fmt.Sprintf("Error reading metrics: %v", err))
	}
	status := web.Status{
		DeviceID:       a.cfg.DeviceID,
		Room:           a.cfg.Room,
		RunID:          a.runID,
		Mode:           string(a.cfg.Mode),
		Interval:       a.cfg.Interval(),
		StartedAt:      a.startedAt,
		Host:           a.host,
		StreamInterval: intervalParam,
		Last:           a.lastReport(),
		Points:         points,
	}

	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	return web.Index(status).Render(c.Request().Context(), c.Response().Writer)
}

func (a *app) healthHandler(c echo.Context) error {
	body := map[string]any{
		"status":    "starting",
		"device_id": a.cfg.DeviceID,
		"run_id":    a.runID,
	}
	if rep := a.lastReport(); rep != nil {
		body["status"] = "ok"
		body["cycles"] = rep.Sequence
		body["last_cycle_at"] = rep.At
		body["scenario"] = rep.Scenario
	}
	return c.JSON(http.StatusOK, body)
}

func (a *app) apiCyclesSSEHandler(c echo.Context) error {
	c.Logger().Infoj(log.JSON{"event": "sse_connected", "remote_addr": c.Request().RemoteAddr})

	interval, err := parseInterval(c, a.cfg.Interval())
	if err != nil {
		return c.String(http.StatusBadRequest, fmt.Sprintf("Invalid interval: %v", err))
	}
	if interval <= 0 {
		return c.String(http.StatusBadRequest, "Invalid interval: must be positive")
	}

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("Access-Control-Allow-Origin", "*")

	fmt.Fprintf(resp.Writer, "event: connected\ndata: streaming cycles for %s\n\n", a.cfg.DeviceID)
	resp.Flush()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	if err := a.sendCycleUpdate(ctx, resp); err != nil {
		c.Logger().Errorj(log.JSON{"event": "sse_write_failed", "error": err.Error()})
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			c.Logger().Infoj(log.JSON{"event": "sse_disconnected", "remote_addr": c.Request().RemoteAddr})
			return nil
		case <-ticker.C:
			if err := a.sendCycleUpdate(ctx, resp); err != nil {
				c.Logger().Errorj(log.JSON{"event": "sse_write_failed", "error": err.Error()})
				return nil
			}
		}
	}
}

func (a *app) sendCycleUpdate(ctx context.Context, resp *echo.Response) error {
	points, err := a.reg.Snapshot()
	if err != nil {
		_, writeErr := fmt.Fprintf(resp.Writer, "event: error\ndata: %s\n\n", err.Error())
		resp.Flush()
		return writeErr
	}

	rep := a.lastReport()
	var buf strings.Builder
	if err := web.CycleDisplay(rep, points).Render(ctx, &buf); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var seq uint64
	if rep != nil {
		seq = rep.Sequence
	}
	if _, err := fmt.Fprintf(resp.Writer, "id: %d\nevent: cycle\ndata: %s\n\n", seq, buf.String()); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (a *app) lastReport() *emitter.Report {
	rep, ok := a.collector.LastReport()
	if !ok {
		return nil
	}
	return &rep
}

// parseInterval reads the interval query parameter: any Go duration ("500ms",
// "2s", "1m0s") or a plain number of seconds.
func parseInterval(c echo.Context, fallback time.Duration) (time.Duration, error) {
	intervalStr := c.QueryParam("interval")
	if intervalStr == "" {
		return fallback, nil
	}
	if d, err := time.ParseDuration(intervalStr); err == nil {
		return d, nil
	}
	seconds, err := strconv.ParseFloat(intervalStr, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is neither a duration nor a number of seconds", intervalStr)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
