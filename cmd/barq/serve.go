package main

import (
	"fmt"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/app"
	"github.com/mochaeng/barq/internal/host"
	"github.com/mochaeng/barq/internal/models"
	"github.com/spf13/cobra"
)

var simulate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pay and route info commands over HTTP",
	Long: `Serve exposes pay, routeinfo, payment lookup and graph refresh over HTTP.
With --simulate the node is replaced by an in-memory demo network.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&simulate, "simulate", false, "Use an in-memory demo network instead of the node RPC")
}

func runServe(cmd *cobra.Command, args []string) error {
	var h host.Host
	if simulate {
		sim, err := demoNetwork()
		if err != nil {
			return fmt.Errorf("failed to build demo network: %w", err)
		}
		h = sim
		logger.Info("using simulated network", "self", sim.Self())
	} else {
		h = host.NewRPCClient(cfg.HostRPCURL, cfg.RequestTimeout, logger)
	}

	application, err := app.NewApp(cfg, h, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("failed to close clients", "error", err)
		}
	}()
	return application.Run(cmd.Context(), application.Mount())
}

// demoNetwork is a small diamond: self reaches carol through alice or bob.
func demoNetwork() (*host.SimNetwork, error) {
	sim, err := host.NewSimNetwork()
	if err != nil {
		return nil, err
	}
	self := sim.Self()

	ids := map[string]models.NodeID{"": self}
	for _, alias := range []string{"alice", "bob", "carol"} {
		id, err := sim.AddNode(alias)
		if err != nil {
			return nil, err
		}
		ids[alias] = id
	}

	channels := []struct {
		from, to string
		capacity lnwire.MilliSatoshi
	}{
		{"", "alice", 5_000_000},
		{"", "bob", 3_000_000},
		{"alice", "carol", 4_000_000},
		{"bob", "carol", 4_000_000},
	}
	for _, c := range channels {
		if _, err := sim.OpenChannel(ids[c.from], ids[c.to], c.capacity,
			host.WithFees(1_000, 100)); err != nil {
			return nil, err
		}
	}

	amount := lnwire.MilliSatoshi(123_000)
	inv, err := sim.CreateInvoice(ids["carol"], &amount)
	if err != nil {
		return nil, err
	}
	logger.Info("demo invoice", "bolt11", inv.Bolt11, "amount_msat", uint64(amount))
	return sim, nil
}
