package main

import (
	"github.com/spf13/cobra"

	"github.com/srg/keybridge/internal/events"
)

var forgetCmd = &cobra.Command{
	Use:   "forget <address>",
	Short: "Remove a bonded dongle's APPKEY and preference entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func runForget(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	address := args[0]
	if err := a.keys.Clear(address); err != nil {
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}
	if err := a.store.Forget(address); err != nil {
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}
	a.notify.Notify(events.LevelInfo, "forgot "+address)
	return nil
}
