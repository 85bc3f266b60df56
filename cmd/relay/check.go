package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustlines-relay/internal/registry"
)

func runCheckManifest(cmd *cobra.Command, args []string) error {
	logger, err := newLogger("warn")
	if err != nil {
		return err
	}
	defer logger.Sync()

	m, err := registry.FileManifest{Path: args[0], Logger: logger}.Load()
	if err != nil {
		return err
	}

	var errs []error
	for _, section := range []struct {
		name  string
		addrs registry.AddressList
	}{
		{"networks", m.Networks},
		{"network_gateways", m.Gateways},
		{"gateway_escrows", m.Escrows},
		{"exchange", m.Exchanges},
		{"unwEth", m.UnwEth},
		{"tokens", m.Tokens},
		{"identityProxyFactory", m.IdentityFactories},
	} {
		parsed, err := registry.ParseAddresses(section.addrs)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section.name, err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-22s %d\n", section.name, len(parsed))
	}
	if len(m.NetworkShields) > 0 {
		logger.Warn("network shields are not tracked", zap.Int("count", len(m.NetworkShields)))
	}
	return errors.Join(errs...)
}
