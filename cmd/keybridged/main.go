package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds a 'v' prefix if version starts with a digit.
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "keybridged",
	Short: "Secure host bridge for the BLE keyboard dongle",
	Long: `keybridged pairs with, provisions, and drives a single BLE keyboard
dongle over a fixed Nordic-UART-style GATT service:

- Discover and connect to the dongle, selecting it by RSSI when more than
  one bonded candidate is in range.
- Provision a fresh dongle with a password and store the resulting APPKEY.
- Establish and maintain the encrypted session (ECDH + HKDF + AES-CTR/HMAC).
- Send strings and change the keyboard layout.

One process owns exactly one dongle connection at a time.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sendStringCmd)
	rootCmd.AddCommand(setLayoutCmd)
	rootCmd.AddCommand(forgetCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("prefs", "", "Path to preferences.yaml (default: $XDG_CONFIG_HOME/keybridged/preferences.yaml)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
