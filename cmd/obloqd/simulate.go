package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/obloq-bridge/internal/infrastructure/config"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/obloq-bridge/internal/simulator"
)

// simulateOptions holds the simulate command flags.
type simulateOptions struct {
	addr       string
	broker     string
	accounts   []string
	ip         string
	tagged     bool
	echo       bool
	replyDelay time.Duration
	logLevel   string
}

func newSimulateCmd() *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Emulate an OBLOQ module on a TCP port",
		Long: "Serves the module's command protocol over TCP so obloqd can run\n" +
			"with serial.url set to tcp://HOST:PORT. Without --broker the cloud\n" +
			"side is an in-memory broker; with --broker messages are relayed\n" +
			"through a real MQTT broker.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			srv, err := opts.server()
			if err != nil {
				return err
			}
			if err := srv.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OBLOQ simulator on tcp://%s\n", srv.Addr())

			<-ctx.Done()
			return srv.Close()
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", "127.0.0.1:7000", "listen address")
	f.StringVar(&opts.broker, "broker", "", "relay through this MQTT broker URL (e.g. tcp://localhost:1883)")
	f.StringSliceVar(&opts.accounts, "account", nil, "accepted user:key pair for the in-memory broker (repeatable)")
	f.StringVar(&opts.ip, "ip", simulator.DefaultIP, "address reported when Wi-Fi associates")
	f.BoolVar(&opts.tagged, "tagged", false, "deliver messages as |4|1|5|topic|message| frames")
	f.BoolVar(&opts.echo, "echo", false, "echo every command frame before replying")
	f.DurationVar(&opts.replyDelay, "reply-delay", 0, "delay before every reply")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

// server builds the simulator from the flags.
func (o *simulateOptions) server() (*simulator.Server, error) {
	var backend simulator.Backend
	if o.broker != "" {
		backend = &simulator.PahoBackend{BrokerURL: o.broker}
	} else {
		mem := simulator.NewMemoryBackend()
		for _, account := range o.accounts {
			user, key, ok := strings.Cut(account, ":")
			if !ok || user == "" || key == "" {
				return nil, fmt.Errorf("invalid --account %q, want user:key", account)
			}
			mem.AddAccount(user, key)
		}
		backend = mem
	}

	log := logging.New(config.LoggingConfig{
		Level:  o.logLevel,
		Format: "text",
		Output: "stderr",
	}, version)

	return simulator.New(simulator.Config{
		Addr:           o.addr,
		Backend:        backend,
		IP:             o.ip,
		TaggedMessages: o.tagged,
		Echo:           o.echo,
		ReplyDelay:     o.replyDelay,
		Logger:         log,
	})
}
