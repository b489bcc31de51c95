package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/keybridge/internal/events"
)

var connectCmd = &cobra.Command{
	Use:   "connect [address]",
	Short: "Connect to a dongle, provisioning it first if needed",
	Long: `Connects to the BLE keyboard dongle at the given address, or to the
auto-connect candidate set from preferences if no address is given.

If the dongle has no stored APPKEY, connect provisions it first, prompting
for the device password on the terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var connectTimeout time.Duration

func init() {
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 15*time.Second, "Connect timeout")
}

func runConnect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout+5*time.Second)
	defer cancel()

	if len(args) == 1 {
		address := args[0]
		if err := a.orch.Connect(ctx, address, connectTimeout, true); err != nil {
			a.notify.Notify(events.LevelError, FormatUserError(err))
			return err
		}
		a.notify.Notify(events.LevelInfo, fmt.Sprintf("connected to %s", address))
		return nil
	}

	if err := a.orch.AutoConnect(ctx); err != nil {
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}
	a.notify.Notify(events.LevelInfo, fmt.Sprintf("connected to %s", a.orch.Target()))
	return nil
}
