package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vx-labs/statemesh/cli"
	"github.com/vx-labs/statemesh/mirror"
	"go.uber.org/zap"
)

const (
	FLAG_NAME_ROLE              = "role"
	FLAG_NAME_CATEGORY          = "category"
	FLAG_NAME_BOOTSTRAP_TIMEOUT = "bootstrap-timeout"
	FLAG_NAME_PULL_TIMEOUT      = "pull-timeout"
	FLAG_NAME_INTERACTIVE       = "interactive"
)

func main() {
	config := viper.New()
	config.SetEnvPrefix("statemesh")
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	root := &cobra.Command{
		Use: "statemesh",
	}
	root.AddCommand(Node(config))
	root.AddCommand(&cobra.Command{
		Use: "version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(cli.Version())
		},
	})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func Node(config *viper.Viper) *cobra.Command {
	c := &cobra.Command{
		Use:   "node",
		Short: "Run a node hosting one synchronized category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(config)
		},
	}
	c.Flags().StringP(FLAG_NAME_ROLE, "r", mirror.AuthorityBinding.Name, fmt.Sprintf("Binding of this node (%s)", strings.Join(mirror.Bindings(), ", ")))
	config.BindPFlag(FLAG_NAME_ROLE, c.Flags().Lookup(FLAG_NAME_ROLE))
	c.Flags().StringP(FLAG_NAME_CATEGORY, "c", "document", "Category hosted by this node")
	config.BindPFlag(FLAG_NAME_CATEGORY, c.Flags().Lookup(FLAG_NAME_CATEGORY))
	c.Flags().DurationP(FLAG_NAME_BOOTSTRAP_TIMEOUT, "", mirror.DefaultBootstrapTimeout, "Give up fetching the initial state after this delay")
	config.BindPFlag(FLAG_NAME_BOOTSTRAP_TIMEOUT, c.Flags().Lookup(FLAG_NAME_BOOTSTRAP_TIMEOUT))
	c.Flags().DurationP(FLAG_NAME_PULL_TIMEOUT, "", mirror.DefaultPullTimeout, "Timeout of a single initial state request")
	config.BindPFlag(FLAG_NAME_PULL_TIMEOUT, c.Flags().Lookup(FLAG_NAME_PULL_TIMEOUT))
	c.Flags().BoolP(FLAG_NAME_INTERACTIVE, "i", true, "Read commands from the terminal")
	config.BindPFlag(FLAG_NAME_INTERACTIVE, c.Flags().Lookup(FLAG_NAME_INTERACTIVE))
	cli.AddClusterFlags(c, config)
	return c
}

func runNode(config *viper.Viper) error {
	binding, err := mirror.BindingByName(config.GetString(FLAG_NAME_ROLE))
	if err != nil {
		return err
	}
	category, err := mirror.Define[document](mirror.DefaultRegistry, config.GetString(FLAG_NAME_CATEGORY))
	if err != nil {
		return err
	}
	metrics, err := mirror.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	ctx, err := cli.Bootstrap(config)
	if err != nil {
		return err
	}
	logger := ctx.Logger
	if err := ctx.Join(); err != nil {
		logger.Warn("failed to join cluster, running alone", zap.Error(err))
	}
	channel, err := mirror.New(ctx.Layer, category, document{}, binding,
		mirror.WithLogger(logger),
		mirror.WithMetrics(metrics),
		mirror.WithBootstrapTimeout(config.GetDuration(FLAG_NAME_BOOTSTRAP_TIMEOUT)),
		mirror.WithPullTimeout(config.GetDuration(FLAG_NAME_PULL_TIMEOUT)),
	)
	if err != nil {
		ctx.Shutdown()
		return err
	}
	ctx.ServeHealth(cli.HealthFunc(func() string {
		select {
		case <-channel.Ready():
			return "ok"
		default:
			return "warning"
		}
	}))
	watchCtx, stopWatching := context.WithCancel(context.Background())
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		logChanges(watchCtx, logger, channel)
	}()

	quit := make(chan struct{})
	if config.GetBool(FLAG_NAME_INTERACTIVE) {
		go func() {
			defer close(quit)
			prompt(&shell{node: ctx.ID, channel: channel, out: os.Stdout}, logger)
		}()
	}
	select {
	case <-cli.Signals():
		logger.Info("received termination signal")
	case <-quit:
	}
	stopWatching()
	<-watching
	ctx.Shutdown(channel)
	return nil
}

// logChanges reports the bootstrap outcome and every state change until ctx
// is cancelled.
func logChanges(ctx context.Context, logger *zap.Logger, channel *mirror.Channel[document]) {
	events, cancel := channel.Events()
	defer cancel()
	start := time.Now()
	if err := channel.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("started without initial state", zap.Error(err))
	} else {
		logger.Info("state ready", zap.Duration("bootstrap_duration", time.Since(start)))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			logger.Debug("state changed", zap.Int("field_count", len(ev.New)))
		}
	}
}

func prompt(s *shell, logger *zap.Logger) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s@%s", s.channel.Binding().Name, s.channel.Category().Name()),
	}
	for {
		line, err := p.Run()
		if err != nil {
			if err != promptui.ErrInterrupt && err != promptui.ErrEOF {
				logger.Error("failed to read command", zap.Error(err))
			}
			return
		}
		if err := s.execute(line); err != nil {
			if err == errQuit {
				return
			}
			fmt.Fprintf(os.Stderr, "%s %v\n", promptui.IconBad, err)
		}
	}
}
