package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/keybridge/internal/events"
	"github.com/srg/keybridge/internal/orchestrator"
)

var setLayoutCmd = &cobra.Command{
	Use:   "set-layout <code>",
	Short: "Set the dongle's active keyboard layout",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetLayout,
}

func runSetLayout(cmd *cobra.Command, args []string) error {
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
		err := ErrNoPrimaryDevice
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	code := args[0]
	if err := opsHandle.SetLayout(ctx, code); err != nil {
		a.notify.Notify(events.LevelError, FormatUserError(err))
		return err
	}
	if err := a.store.SetLayoutCode(code); err != nil {
		a.log.WithError(err).Warn("failed to persist layout code")
	}
	a.notify.Notify(events.LevelInfo, "layout set to "+code)
	return nil
}
