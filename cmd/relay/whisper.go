package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/javelin/internal/whisper"
)

var whisperFlags struct {
	from   string
	listen time.Duration
}

// consolePlayers stands in for the one player this command speaks for.
type consolePlayers struct {
	name string
}

func (p consolePlayers) Deliver(name, text string) bool {
	if name != whisper.StripColors(p.name) {
		return false
	}
	fmt.Println(color.MagentaString(text))
	return true
}

// whisperCmd whispers to a player on another server.
var whisperCmd = &cobra.Command{
	Use:   "whisper <receiver> <message...>",
	Short: "Whisper to a player through the relay",
	Args:  cobra.MinimumNArgs(2),
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

		svc := whisper.NewService(c, consolePlayers{name: whisperFlags.from}, log)
		if err := svc.Whisper(whisperFlags.from, args[0], strings.Join(args[1:], " ")); err != nil {
			return err
		}

		if whisperFlags.listen <= 0 {
			return nil
		}
		timeout := time.After(whisperFlags.listen)
		for {
			select {
			case env, ok := <-c.Messages():
				if !ok {
					return c.Err()
				}
				if env.Endpoint == whisper.Endpoint {
					svc.Handle(env)
				}
			case <-timeout:
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(whisperCmd)
	addConnFlags(whisperCmd)
	whisperCmd.Flags().StringVar(&whisperFlags.from, "from", "", "Player name to whisper as")
	whisperCmd.Flags().DurationVar(&whisperFlags.listen, "listen", 0, "Wait this long for whispers back")
	_ = whisperCmd.MarkFlagRequired("from")
}
