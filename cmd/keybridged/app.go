package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/keybridge/internal/events"
	"github.com/srg/keybridge/internal/keystore"
	"github.com/srg/keybridge/internal/orchestrator"
	"github.com/srg/keybridge/internal/prefs"
)

// app bundles the stack every subcommand drives: preferences, key store,
// orchestrator, and a notifier for status output. Built fresh per
// invocation (this is a CLI, not a long-lived daemon despite the binary's
// name — see the "CLI harness" entry in SPEC_FULL.md).
type app struct {
	log    *logrus.Logger
	store  *prefs.Store
	keys   *keystore.FileStore
	orch   *orchestrator.Orchestrator
	notify events.Notifier
}

func newApp(cmd *cobra.Command) (*app, error) {
	logger, err := configureLogger(cmd)
	if err != nil {
		return nil, err
	}

	dataDir, err := dataDir(cmd)
	if err != nil {
		return nil, err
	}

	prefsPath := filepath.Join(dataDir, "preferences.yaml")
	if p, _ := cmd.Flags().GetString("prefs"); p != "" {
		prefsPath = p
	}
	store, err := prefs.Open(prefsPath)
	if err != nil {
		return nil, err
	}

	keys := keystore.NewFileStore(filepath.Join(dataDir, "keys"), logger)
	notify := events.NewCLINotifier(os.Stdout)

	orch := orchestrator.New(logger, keys, store, stdinPasswordPrompt)

	return &app{log: logger, store: store, keys: keys, orch: orch, notify: notify}, nil
}

func dataDir(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("prefs"); p != "" {
		return filepath.Dir(p), nil
	}
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(cfg, "keybridged"), nil
}

// stdinPasswordPrompt implements events.PasswordPrompt for an interactive
// terminal session. No pack dependency offers terminal echo suppression,
// so the password is read as a plain line; callers that need masking pipe
// it in non-interactively instead.
func stdinPasswordPrompt(ctx context.Context, deviceID string) ([]byte, error) {
	fmt.Printf("Password for %s: ", deviceID)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return []byte(line), nil
}
