package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current connection and preferences state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	cs := a.orch.Observer().Current()
	fmt.Printf("state:            %s\n", a.orch.State())
	fmt.Printf("target:           %s\n", a.orch.Target())
	fmt.Printf("ble up:           %v\n", cs.BleUp)
	fmt.Printf("secure up:        %v\n", cs.SecureUp)
	fmt.Printf("fast keys:        %v\n", cs.FastKeysEnabled)

	p := a.store.All()
	fmt.Printf("primary address:  %s\n", p.PrimaryAddress)
	fmt.Printf("use external:     %v\n", p.UseExternal)
	fmt.Printf("disabled by err:  %v\n", p.DisabledByError)
	fmt.Printf("layout:           %s\n", p.LayoutCode)
	fmt.Printf("bonded devices:   %d\n", len(p.BondedWithKey))
	return nil
}
