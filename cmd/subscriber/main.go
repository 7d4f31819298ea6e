package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"laserstream-relay/src/client"
	"laserstream-relay/src/helpers"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"
)

// -----------------------------------------------------------------------------

func main() {

	// Parse command line flags
	url := flag.String("url", "ws://localhost:8080/ws", "relay websocket url")
	channels := flag.String("channels", "", "comma separated channels to subscribe to")
	maxAttempts := flag.Int("max-attempts", 0, "reconnect attempts before giving up (0 = unlimited)")
	noReconnect := flag.Bool("no-reconnect", false, "exit when the connection drops")
	level := flag.String("log-level", "INFO", "log level")
	flag.Parse()

	log := logger.NewWriterLogger(os.Stdout, *level, "Subscriber")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := client.DefaultOptions(*url)
	opts.AutoReconnect = !*noReconnect
	opts.MaxReconnectAttempts = *maxAttempts
	opts.Logger = log.Named("RelayClient")

	c, err := client.Dial(ctx, opts)
	if err != nil {
		log.Critical("Failed to connect to %s: %v", *url, err)
	}
	defer c.Close()

	if *channels != "" {
		if err := c.Subscribe(strings.Split(*channels, ",")...); err != nil {
			log.Critical("Subscribe failed: %v", err)
		}
	}

	for {
		msg, err := c.Receive(ctx)
		switch {
		case err == nil:
			printUpdate(log, msg)
		case errors.Is(err, context.Canceled):
			log.Info("Interrupted, closing.")
			return
		case errors.Is(err, helpers.ErrStreamEnded):
			c.Close()
			log.Critical("Stream ended: %v", err)
		default:
			c.Close()
			log.Critical("Receive failed: %v", err)
		}
	}
}

func printUpdate(log *logger.Logger, msg models.Message) {
	switch m := msg.(type) {
	case models.MSlotUpdate:
		log.Info("slot %d (parent %d)", m.Slot, m.Parent)
	case models.MAccountUpdate:
		log.Info("account %s slot %d lamports %d", m.Pubkey, m.Slot, m.Lamports)
	case models.MPriceUpdate:
		log.Info("price %s/%s %.6f (volume %d)", m.InputMint, m.OutputMint, m.Price, m.Volume)
	case models.MTransactionUpdate:
		log.Info("tx %s slot %d failed=%t", m.Signature, m.Slot, m.Failed)
	default:
		log.Debug("%s", msg.Type())
	}
}
