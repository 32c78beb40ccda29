// dhtnode runs a single overlay participant: it listens for inbound
// connections, optionally joins an existing swarm through a bootstrap
// peer, and runs the periodic maintenance loop.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/bowlingb/OpenBazaar/guid"
	"github.com/bowlingb/OpenBazaar/internal/log"
	"github.com/bowlingb/OpenBazaar/kademlia/config"
	"github.com/bowlingb/OpenBazaar/kademlia/peer"
	"github.com/bowlingb/OpenBazaar/node"
)

func parseGUIDFlag(s string) (guid.GUID, error) {
	if s == "" {
		return guid.GUID{}, errors.New("missing GUID")
	}
	return guid.FromHex(s)
}

func main() {
	listenAddr := flag.String("addr", "127.0.0.1:7700", "listen address")
	bootstrapAddr := flag.String("bootstrap", "", "address of an existing node to join through")
	bootstrapGUID := flag.String("bootstrap-guid", "", "hex GUID of the bootstrap node, required with -bootstrap")
	dataDir := flag.String("datadir", "./dhtnode-data", "directory for persisted state")
	nickname := flag.String("nickname", "", "optional human-readable nickname advertised to peers")
	maintenanceEvery := flag.Duration("maintenance-interval", 5*time.Minute, "base interval between maintenance sweeps")
	flag.Parse()

	n, err := node.New(node.Options{
		ListenAddr: *listenAddr,
		Nickname:   *nickname,
		DataDir:    *dataDir,
		Config:     config.Default,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("dhtnode: construction failed")
	}

	if err := n.Restore(); err != nil {
		log.Error().Err(err).Msg("dhtnode: restore from disk failed, starting clean")
	}

	if err := n.Listen(); err != nil {
		log.Fatal().Err(err).Msg("dhtnode: listen failed")
	}
	log.Info().Str("guid", n.Self().GUID.String()).Str("addr", n.Self().Address).Msg("dhtnode: listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *bootstrapAddr != "" {
		seedGUID, err := parseGUIDFlag(*bootstrapGUID)
		if err != nil {
			log.Fatal().Err(err).Msg("dhtnode: invalid -bootstrap-guid")
		}
		seed := peer.New(seedGUID, *bootstrapAddr, nil, "")
		if err := n.Join(ctx, seed); err != nil {
			log.Error().Err(err).Msg("dhtnode: join failed, running unbootstrapped")
		} else {
			log.Info().Str("bootstrap", *bootstrapAddr).Msg("dhtnode: joined swarm")
		}
	}

	n.RunMaintenance(ctx, *maintenanceEvery)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("dhtnode: shutting down")
	if err := n.Shutdown(); err != nil {
		log.Error().Err(err).Msg("dhtnode: shutdown error")
	}
}
