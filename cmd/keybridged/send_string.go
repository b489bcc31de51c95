package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/keybridge/internal/events"
	"github.com/srg/keybridge/internal/orchestrator"
)

var sendStringCmd = &cobra.Command{
	Use:   "send-string <text>",
	Short: "Type text on the dongle over the secure session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSendString,
}

var sendStringNewline bool

func init() {
	sendStringCmd.Flags().BoolVar(&sendStringNewline, "newline", false, "Append a trailing newline keystroke")
}

func runSendString(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	opsHandle := a.orch.Ops()
	if opsHandle == nil {
		// No live session in this process: establish one from preferences.
		if err := a.orch.AutoConnect(cmd.Context()); err != nil && !errors.Is(err, orchestrator.ErrNoCandidates) {
			a.notify.Notify(events.LevelError, FormatUserError(err))
			return err
		}
		opsHandle = a.orch.Ops()
	}
	if opsHandle == nil {
		err := fmt.Errorf("no secure session: %w", ErrNoPrimaryDevice)
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if err := opsHandle.SendString(ctx, args[0], sendStringNewline); err != nil {
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}
	a.notify.Notify(events.LevelInfo, "string sent")
	return nil
}
