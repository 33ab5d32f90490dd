package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	clusterconfig "github.com/vx-labs/statemesh/cluster/config"
	"github.com/vx-labs/statemesh/cluster/layer"
	"github.com/vx-labs/statemesh/network"
	"go.uber.org/zap"
)

const (
	FLAG_NAME_GOSSIP       = "gossip"
	FLAG_NAME_JOIN         = "join"
	FLAG_NAME_HEALTH_ADDR  = "health-address"
	FLAG_NAME_HEALTH_PORT  = "health-port"
	DEFAULT_GOSSIP_PORT    = 3500
	DEFAULT_HEALTH_PORT    = 9000
	DEFAULT_HEALTH_ADDRESS = "[::]"
)

var version = "dev"

// Version is overridden at link time.
func Version() string {
	return version
}

func AddClusterFlags(root *cobra.Command, v *viper.Viper) {
	root.Flags().StringSliceP(FLAG_NAME_JOIN, "j", []string{}, "Join this node")
	v.BindPFlag(FLAG_NAME_JOIN, root.Flags().Lookup(FLAG_NAME_JOIN))

	root.Flags().StringP(FLAG_NAME_HEALTH_ADDR, "", DEFAULT_HEALTH_ADDRESS, "Serve /health and /metrics on this address")
	v.BindPFlag(FLAG_NAME_HEALTH_ADDR, root.Flags().Lookup(FLAG_NAME_HEALTH_ADDR))
	root.Flags().IntP(FLAG_NAME_HEALTH_PORT, "", DEFAULT_HEALTH_PORT, "Serve /health and /metrics on this port, 0 to disable")
	v.BindPFlag(FLAG_NAME_HEALTH_PORT, root.Flags().Lookup(FLAG_NAME_HEALTH_PORT))

	network.RegisterFlagsForService(root, v, FLAG_NAME_GOSSIP, DEFAULT_GOSSIP_PORT)
}

type Context struct {
	ID      string
	Logger  *zap.Logger
	Layer   *layer.GossipLayer
	NetConf network.Configuration
	config  *viper.Viper
}

func newLogger(id string) (*zap.Logger, error) {
	opts := []zap.Option{
		zap.Fields(zap.String("node_id", id), zap.String("version", Version())),
	}
	if os.Getenv("ENABLE_PRETTY_LOG") == "true" {
		return zap.NewDevelopment(opts...)
	}
	return zap.NewProduction(opts...)
}

// Bootstrap builds the logger and starts the gossip layer described by the
// flags registered with AddClusterFlags.
func Bootstrap(v *viper.Viper) (*Context, error) {
	netConf, err := network.ConfigurationFromFlags(v, FLAG_NAME_GOSSIP)
	if err != nil {
		return nil, err
	}
	id := netConf.ID()
	logger, err := newLogger(id)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded gossip config",
		zap.String("bind_address", netConf.BindAddress()),
		zap.Int("bind_port", netConf.BindPort()),
		zap.String("advertised_address", netConf.AdvertisedAddress()),
		zap.Int("advertised_port", netConf.AdvertisedPort()),
	)
	gossip, err := layer.NewGossipLayer(FLAG_NAME_GOSSIP, logger, clusterconfig.Config{
		ID:            id,
		BindAddr:      netConf.BindAddress(),
		BindPort:      netConf.BindPort(),
		AdvertiseAddr: netConf.AdvertisedAddress(),
		AdvertisePort: netConf.AdvertisedPort(),
		OnNodeJoin: func(peer string) {
			logger.Info("node joined", zap.String("remote_node_id", peer))
		},
		OnNodeLeave: func(peer string) {
			logger.Info("node left", zap.String("remote_node_id", peer))
		},
	})
	if err != nil {
		logger.Sync()
		return nil, err
	}
	fmt.Printf("Use the following address to join the cluster: %s:%d\n", netConf.AdvertisedAddress(), netConf.AdvertisedPort())
	return &Context{
		ID:      id,
		Logger:  logger,
		Layer:   gossip,
		NetConf: netConf,
		config:  v,
	}, nil
}

// Join joins the peers given with --join, if any.
func (ctx *Context) Join() error {
	return ctx.Layer.Join(ctx.config.GetStringSlice(FLAG_NAME_JOIN))
}

// ServeHealth serves /health and /metrics in the background. Checkers are
// consulted in order, the first non-ok status wins.
func (ctx *Context) ServeHealth(checkers ...HealthChecker) {
	port := ctx.config.GetInt(FLAG_NAME_HEALTH_PORT)
	if port == 0 {
		return
	}
	addr := fmt.Sprintf("%s:%d", ctx.config.GetString(FLAG_NAME_HEALTH_ADDR), port)
	go serveHTTPHealth(ctx.Logger, addr, append([]HealthChecker{ctx.Layer}, checkers...))
}

// Shutdown closes every closer, then leaves the cluster.
func (ctx *Context) Shutdown(closers ...io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			ctx.Logger.Warn("failed to close", zap.Error(err))
		}
	}
	ctx.Layer.Leave()
	ctx.Logger.Info("cluster left")
	ctx.Logger.Sync()
}

// Signals returns a channel receiving termination signals.
func Signals() <-chan os.Signal {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	return sigc
}

type HealthChecker interface {
	Health() string
}

// HealthFunc turns a function into a HealthChecker.
type HealthFunc func() string

func (f HealthFunc) Health() string {
	return f()
}

func healthHandler(checkers []HealthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		for _, checker := range checkers {
			switch checker.Health() {
			case "warning":
				w.WriteHeader(http.StatusTooManyRequests)
				return
			case "critical":
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func serveHTTPHealth(logger *zap.Logger, addr string, checkers []HealthChecker) {
	err := http.ListenAndServe(addr, healthHandler(checkers))
	if err != nil {
		logger.Error("failed to run healthcheck endpoint", zap.Error(err))
	}
}
