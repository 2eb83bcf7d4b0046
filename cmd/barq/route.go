package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/mochaeng/barq/internal/constants"
	"github.com/mochaeng/barq/internal/graph"
	"github.com/mochaeng/barq/internal/models"
	"github.com/mochaeng/barq/internal/planner"
	"github.com/mochaeng/barq/internal/routing"
	"github.com/spf13/cobra"
)

var routeFlags struct {
	topology    string
	source      string
	destination string
	amount      uint64
	strategy    string
	maxFee      uint64
	split       bool
}

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Compute routes over a topology file without paying",
	Long: `Route loads a JSON topology file of the form {"nodes": [...], "channels": [...]}
in the node's listnodes/listchannels format and prints the routes the chosen
strategy finds. With --split it prints the plan the payment planner would
dispatch instead.`,
	RunE: runRoute,
}

func init() {
	f := routeCmd.Flags()
	f.StringVar(&routeFlags.topology, "topology", "", "Path to the JSON topology file")
	f.StringVar(&routeFlags.source, "source", "", "Paying node id")
	f.StringVar(&routeFlags.destination, "destination", "", "Destination node id")
	f.Uint64Var(&routeFlags.amount, "amount", 0, "Amount to deliver in msat")
	f.StringVar(&routeFlags.strategy, "strategy", "", "deterministic, probabilistic or greedy")
	f.Uint64Var(&routeFlags.maxFee, "max-fee", 0, "Fee limit in msat, 0 for none")
	f.BoolVar(&routeFlags.split, "split", false, "Print the split plan")
	_ = routeCmd.MarkFlagRequired("topology")
	_ = routeCmd.MarkFlagRequired("source")
	_ = routeCmd.MarkFlagRequired("destination")
}

type topologyFile struct {
	Nodes    []models.Node    `json:"nodes"`
	Channels []models.Channel `json:"channels"`
}

func runRoute(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(routeFlags.topology)
	if err != nil {
		return fmt.Errorf("failed to read topology: %w", err)
	}
	var topo topologyFile
	if err := json.Unmarshal(data, &topo); err != nil {
		return fmt.Errorf("failed to parse topology: %w", err)
	}

	strategy := cfg.DefaultStrategy
	if routeFlags.strategy != "" {
		if strategy, err = constants.ParseStrategy(routeFlags.strategy); err != nil {
			return err
		}
	}

	cons := routing.Constraints{
		MaxFee:        lnwire.MilliSatoshi(routeFlags.maxFee),
		MaxHops:       cfg.MaxHops,
		FinalCLTV:     cfg.FinalCLTVDelta,
		MaxCandidates: cfg.MaxCandidates,
	}
	source := models.NodeID(routeFlags.source)
	destination := models.NodeID(routeFlags.destination)
	amount := lnwire.MilliSatoshi(routeFlags.amount)

	view := graph.NewView()
	view.Refresh(topo.Nodes, topo.Channels)

	var out any
	if routeFlags.split {
		p := planner.New(view, planner.Config{MaxParts: cfg.MaxParts, MinPartAmount: cfg.MinPartAmount}, logger)
		parts, err := p.Plan(planner.Request{
			Source:      source,
			Destination: destination,
			Amount:      amount,
			Strategy:    strategy,
			Constraints: cons,
		})
		if err != nil {
			return err
		}
		out = parts
	} else {
		routes, err := routing.FindRoutes(strategy, view.Snapshot(), routing.Request{
			Source:      source,
			Destination: destination,
			Amount:      amount,
			Constraints: cons,
		})
		if err != nil {
			return err
		}
		if len(routes) == 0 {
			return models.ErrNoRouteFound
		}
		out = models.RouteInfoResponse{Status: "success", RouteInfo: routes}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
