package main

import (
	"errors"
	"fmt"

	"github.com/srg/keybridge/internal/mtls"
	"github.com/srg/keybridge/internal/orchestrator"
	"github.com/srg/keybridge/internal/transport"
)

// Command-level errors.
var (
	// ErrNoPrimaryDevice indicates an operation needs a selected dongle but
	// none is stored in preferences yet.
	ErrNoPrimaryDevice = errors.New("no dongle selected; run 'keybridged connect <address>' first")
)

// FormatUserError rewrites an internal error chain into the short,
// mechanism-free sentence a terminal user should see, rather than the
// fully wrapped "orchestrator: connect AA:BB: transport: ..." chain the
// layers build for logs.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var connErr *transport.ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Msg
	}

	var provErr *mtls.ProvisioningError
	if errors.As(err, &provErr) {
		return fmt.Sprintf("provisioning failed: %s", provErr.Error())
	}

	var hsErr *mtls.HandshakeError
	if errors.As(err, &hsErr) {
		return fmt.Sprintf("handshake failed: %s", hsErr.Error())
	}

	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		return "a connection attempt is already in progress"
	case errors.Is(err, orchestrator.ErrNoCandidates):
		return "no dongle is configured for auto-connect"
	case errors.Is(err, orchestrator.ErrAllCandidatesFailed):
		return "could not reach any known dongle"
	case errors.Is(err, orchestrator.ErrSuppressed):
		return "auto-connect is temporarily suppressed"
	case errors.Is(err, orchestrator.ErrPromptUnavailable):
		return "dongle is not provisioned and no password prompt is available"
	}

	return err.Error()
}
