// Command nodecoordd is the thin composition root that wires a
// platform adapter, the nftables router driver, and nodeconfig's
// on-disk configuration into a coordinator.Core.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nodecoord/infrastructure/logging"
	"nodecoord/internal/adapter"
	adapterfabric "nodecoord/internal/adapter/fabric"
	"nodecoord/internal/adapter/router"
	"nodecoord/internal/coordinator/coordinator"
	"nodecoord/internal/coordinator/demux"
	"nodecoord/internal/coordinator/engine"
	"nodecoord/internal/coordinator/model"
	"nodecoord/settings/nodeconfig"
)

// newEngine is the binary's one unfilled extension point. The secure
// channel engine (handshake, key exchange, authenticated datagram
// encryption) is an external collaborator the coordinator drives but
// does not implement; a deployment links this binary against a
// concrete engine.Engine by replacing newEngine, typically from a
// build-tag'd file alongside this one.
var newEngine = func(model.Configuration) (engine.Engine, error) {
	return nil, fmt.Errorf("nodecoordd: no secure channel engine registered; replace newEngine with a concrete engine.Engine")
}

func main() {
	configPath := flag.String("config", "", "path to conf.json (defaults to $NODECOORD_CONFIG or ./conf.json)")
	flag.Parse()
	if *configPath != "" {
		_ = os.Setenv("NODECOORD_CONFIG", *configPath)
	}

	logger := logging.NewLogLogger()

	fileCfg, err := nodeconfig.NewManager().Configuration()
	if err != nil {
		log.Fatalf("nodecoordd: loading configuration: %v", err)
	}

	cfg, err := nodeconfig.Build(*fileCfg)
	if err != nil {
		log.Fatalf("nodecoordd: building configuration: %v", err)
	}

	dev, err := adapter.Open(adapter.Config{Name: fileCfg.TunName, MTU: fileCfg.TunMTU, CIDR: fileCfg.TunCIDR})
	if err != nil {
		log.Fatalf("nodecoordd: opening adapter: %v", err)
	}
	defer func() { _ = dev.Close() }()

	var ethSink demux.EthernetSink
	var ipSink demux.IPSink

	switch cfg.AdapterMode {
	case model.ModeSwitch:
		ethSink = adapter.NewEthernetSink(dev, logger)
	case model.ModeRouter:
		ipSink = adapter.NewIPSink(dev, logger)

		extIface, err := router.ExternalInterface()
		if err != nil {
			log.Fatalf("nodecoordd: resolving external interface: %v", err)
		}

		drv, err := router.New()
		if err != nil {
			log.Fatalf("nodecoordd: opening nftables driver: %v", err)
		}
		defer func() { _ = drv.Close() }()

		if err := drv.EnableDevMasquerade(extIface); err != nil {
			log.Fatalf("nodecoordd: enabling masquerade on %s: %v", extIface, err)
		}
		if err := drv.EnableForwardingFromTunToDev(dev.Name(), extIface); err != nil {
			log.Fatalf("nodecoordd: enabling tun->dev forwarding: %v", err)
		}
		if err := drv.EnableForwardingFromDevToTun(dev.Name(), extIface); err != nil {
			log.Fatalf("nodecoordd: enabling dev->tun forwarding: %v", err)
		}
	}

	eng, err := newEngine(cfg)
	if err != nil {
		log.Fatalf("nodecoordd: %v", err)
	}

	core := coordinator.New(cfg, eng, adapterfabric.New(), ethSink, ipSink, nil, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := core.Open(ctx); err != nil {
		log.Fatalf("nodecoordd: opening coordinator: %v", err)
	}
	logger.Printf("info: nodecoordd listening on %v", cfg.ListenOn)

	<-ctx.Done()

	if err := core.Close(); err != nil {
		log.Fatalf("nodecoordd: closing coordinator: %v", err)
	}
}
