package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/http2socks/internal/config"
	"github.com/die-net/http2socks/internal/dialer"
	"github.com/die-net/http2socks/internal/proxy"
)

const fallbackUpstream = "socks5://127.0.0.1:12345"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "Optional INI file whose top-level keys are flag names. Flags and "+config.EnvPrefix+"* environment variables take precedence.")

		listen   = pflag.String("listen", "127.0.0.1:3129", "HTTP proxy listen address")
		upstream = pflag.String("upstream", defaultUpstream(os.LookupEnv), "Upstream SOCKS5 proxy: socks5://host[:port] | socks5h://host[:port] | host:port")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for the TCP connect to the upstream proxy")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for reading request headers and the SOCKS5 handshake")
		httpIdleTimeout    = pflag.Duration("http-idle-timeout", 4*time.Minute, "Timeout for idle HTTP proxy connections")
		forwardTimeout     = pflag.Duration("forward-timeout", 2*time.Minute, "Timeout for a forwarded GET/POST request. 0 disables.")
		tunnelIdleTimeout  = pflag.Duration("tunnel-idle-timeout", 5*time.Minute, "Close a CONNECT tunnel after this long without traffic. 0 disables.")
		tunnelMaxDuration  = pflag.Duration("tunnel-max-duration", 0, "Close a CONNECT tunnel after this long regardless of traffic. 0 disables.")
		maxTunnels         = pflag.Int64("max-tunnels", 0, "Maximum concurrently open CONNECT tunnels. 0 is unlimited.")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		reusePort          = pflag.Bool("reuse-port", false, "Set SO_REUSEPORT on the listener")
		logLevel           = pflag.String("log-level", "info", "Log level: trace|debug|info|warn|error")
		logFormat          = pflag.String("log-format", "console", "Log format: console|json")
	)

	if !proxy.ReusePortSupported {
		_ = pflag.CommandLine.MarkHidden("reuse-port")
	}

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	path := *configPath
	if v, ok := os.LookupEnv(config.EnvName("config")); ok && !pflag.CommandLine.Changed("config") {
		path = v
	}
	if err := config.Apply(pflag.CommandLine, path, os.LookupEnv); err != nil {
		return err
	}

	logger, err := newLogger(os.Stderr, *logLevel, *logFormat)
	if err != nil {
		return err
	}

	ka, err := config.ParseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *reusePort && !proxy.ReusePortSupported {
		return errors.New("--reuse-port is not supported on this platform")
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
	}, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := proxy.Config{
		Dialer:             d,
		NegotiationTimeout: *negotiationTimeout,
		HTTPIdleTimeout:    *httpIdleTimeout,
		ForwardTimeout:     *forwardTimeout,
		TunnelIdleTimeout:  *tunnelIdleTimeout,
		TunnelMaxDuration:  *tunnelMaxDuration,
		MaxTunnels:         *maxTunnels,
		Logger:             logger,
		Metrics:            proxy.NewMetrics(reg),
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		logger.Info().Str("addr", debugLn.Addr().String()).Msg("debug listening")
	}

	ln, err := proxy.ListenTCP(ctx, "tcp", *listen, ka, *reusePort)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	srv := proxy.NewHTTPProxyServer(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("http proxy serve: %w", err)
		}
		return nil
	})
	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("upstream", d.ProxyAddr()).
		Msg("listening")

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("shutting down")
	return err
}

// defaultUpstream honors ALL_PROXY when it names a SOCKS5 proxy.
func defaultUpstream(lookup func(string) (string, bool)) string {
	for _, k := range []string{"ALL_PROXY", "all_proxy"} {
		p, ok := lookup(k)
		if !ok || p == "" {
			continue
		}
		lp := strings.ToLower(p)
		if strings.HasPrefix(lp, "socks5://") || strings.HasPrefix(lp, "socks5h://") {
			return p
		}
	}
	return fallbackUpstream
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid --log-level: %w", err)
	}

	switch format {
	case "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid --log-format %q: expected console or json", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
