package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
)

// publishTimeout bounds the whole one-shot publish.
const publishTimeout = 30 * time.Second

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var skipWifi bool

	cmd := &cobra.Command{
		Use:   "publish <feed> <value>",
		Short: "Publish one value to a cloud feed and exit",
		Long: "Opens the serial link, starts a broker session with the configured\n" +
			"account and publishes the value. Numeric values are sent in plain\n" +
			"decimal. Do not run while obloqd run holds the serial port.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), publishTimeout)
			defer cancel()
			return publishOnce(ctx, opts, args[0], args[1], skipWifi)
		},
	}
	cmd.Flags().BoolVar(&skipWifi, "skip-wifi", false, "do not send the Wi-Fi association command")
	return cmd
}

// publishOnce runs a single broker session and publishes one value.
func publishOnce(ctx context.Context, opts *rootOptions, feed, value string, skipWifi bool) error {
	if err := obloq.ValidateField(feed); err != nil {
		return err
	}
	message, err := obloq.ParseCommandPayload([]byte(value))
	if err != nil {
		return err
	}
	if err := obloq.ValidateField(obloq.FormatMessage(message)); err != nil {
		return err
	}

	cfg, log, err := opts.loadConfig()
	if err != nil {
		return err
	}

	transport, err := obloq.Dial(ctx, cfg.Serial.URL)
	if err != nil {
		return fmt.Errorf("opening serial link: %w", err)
	}
	conn := obloq.NewConnection(transport, connectionOptions(cfg, log))
	defer conn.Close() //nolint:errcheck // Best-effort close after one-shot publish

	if cfg.Wifi.SSID != "" && !skipWifi {
		if err := conn.ConnectWifi(ctx, cfg.Wifi.SSID, cfg.Wifi.Password); err != nil {
			return fmt.Errorf("wifi connect: %w", err)
		}
	}

	ok, err := conn.ConnectBroker(ctx, cfg.AIO.User, cfg.AIO.Key)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	if !ok {
		return fmt.Errorf("broker connect: %w", conn.LastError())
	}

	if err := conn.Publish(ctx, feed, message); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	// The module needs the settle pause before the session is torn down.
	timer := time.NewTimer(cfg.GetSubscribeSettle())
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := conn.Disconnect(ctx); err != nil {
		log.Warn("broker disconnect failed", "error", err)
	}
	log.Info("published", "feed", feed, "value", obloq.FormatMessage(message))
	return nil
}
