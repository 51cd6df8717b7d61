package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/javelin/internal/client"
	"github.com/Tyrowin/javelin/internal/envelope"
	"github.com/Tyrowin/javelin/internal/logger"
)

var connFlags struct {
	url   string
	token string
}

var sendFlags struct {
	endpoint string
	receiver string
	listen   time.Duration
}

// sendCmd sends one envelope through a running relay.
var sendCmd = &cobra.Command{
	Use:   "send <payload>",
	Short: "Send one envelope through a relay",
	Long: `Connect to a relay as a peer and send one envelope. The payload is sent
as JSON when it parses as JSON and as a string otherwise. Without --receiver
the envelope is broadcast on --endpoint.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := cliLogger()
		if err != nil {
			return err
		}

		c, err := dialRelay(cmd, log)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		env, err := buildEnvelope(args[0])
		if err != nil {
			return err
		}
		if err := c.Send(env); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, color.GreenString("Sent on %s", env.Endpoint))

		if sendFlags.listen > 0 {
			printMessages(c, sendFlags.listen)
		}
		return nil
	},
}

func buildEnvelope(arg string) (envelope.Envelope, error) {
	payload := any(arg)
	if json.Valid([]byte(arg)) {
		payload = json.RawMessage(arg)
	}
	if sendFlags.receiver != "" {
		return envelope.Directed(sendFlags.endpoint, sendFlags.receiver, payload)
	}
	return envelope.Broadcast(sendFlags.endpoint, payload)
}

func printMessages(c *client.Client, d time.Duration) {
	timeout := time.After(d)
	for {
		select {
		case env, ok := <-c.Messages():
			if !ok {
				return
			}
			target := "*"
			if !env.IsBroadcast() {
				target = env.ReceiverName()
			}
			fmt.Printf("%s %s %s\n", color.CyanString("[%s]", env.Endpoint), color.YellowString("-> %s", target), env.Payload)
		case <-timeout:
			return
		}
	}
}

func cliLogger() (*slog.Logger, error) {
	level := logLevel
	if level == "" {
		level = "warn"
	}
	return logger.NewFromStrings(level, logFormat)
}

func dialRelay(cmd *cobra.Command, log *slog.Logger) (*client.Client, error) {
	token := connFlags.token
	if token == "" {
		token = os.Getenv("RELAY_TOKEN")
	}
	if token == "" {
		return nil, fmt.Errorf("a token is required (--token or RELAY_TOKEN)")
	}
	return client.Dial(cmd.Context(), connFlags.url, token, client.WithLogger(log))
}

func addConnFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&connFlags.url, "url", "ws://localhost:8080/", "Relay WebSocket URL")
	cmd.Flags().StringVar(&connFlags.token, "token", "", "Peer token (default: RELAY_TOKEN)")
}

func init() {
	rootCmd.AddCommand(sendCmd)
	addConnFlags(sendCmd)
	sendCmd.Flags().StringVar(&sendFlags.endpoint, "endpoint", "", "Endpoint to send on")
	sendCmd.Flags().StringVar(&sendFlags.receiver, "receiver", "", "Receiver peer (default: broadcast)")
	sendCmd.Flags().DurationVar(&sendFlags.listen, "listen", 0, "Print received envelopes for this long after sending")
	_ = sendCmd.MarkFlagRequired("endpoint")
}
