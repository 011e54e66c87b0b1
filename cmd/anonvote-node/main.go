package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vocdoni/anonvote-node/api/client"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/ledger"
	"github.com/vocdoni/anonvote-node/log"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/prover/circom"
	"github.com/vocdoni/anonvote-node/prover/debug"
	"github.com/vocdoni/anonvote-node/service"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/tally"
	"github.com/vocdoni/anonvote-node/types"
)

// Services holds all the running services
type Services struct {
	Storage *storage.Storage
	Ledger  ledger.Tally
	API     *service.APIService
	Tallier *service.TallierService
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output, nil)
	log.Infow("starting anonvote-node", "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	g, gctx := errgroup.WithContext(ctx)
	if services.API != nil {
		g.Go(func() error {
			select {
			case err := <-services.API.Err():
				return err
			case <-gctx.Done():
				return nil
			}
		})
	}
	if services.Tallier != nil {
		g.Go(func() error {
			select {
			case <-services.Tallier.Done():
				log.Infow("tally finished")
			case <-services.Tallier.Stopped():
			case <-gctx.Done():
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw(err, "service failed")
		return
	}
	log.Infow("shutting down")
}

// newProver returns the configured prover and the verifier a local ledger
// checks proofs with.
func newProver(cfg *Config, h *poseidon.Hasher) (prover.Prover, prover.Verifier, error) {
	if cfg.Prover.Type == proverDebug {
		log.Warnw("using the debug prover, proofs carry no zero knowledge guarantee")
		return debug.New(h), debug.Verifier{}, nil
	}
	tallyArtifacts, err := circom.LoadArtifacts(cfg.Prover.TallyWasm, cfg.Prover.TallyZkey, cfg.Prover.TallyVkey)
	if err != nil {
		return nil, nil, err
	}
	voteArtifacts, err := circom.LoadArtifacts("", "", cfg.Prover.VoteVkey)
	if err != nil {
		return nil, nil, err
	}
	p := circom.New(voteArtifacts, tallyArtifacts)
	return p, p, nil
}

// setupServices initializes and starts all required services
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	services := &Services{}
	h := poseidon.New()

	log.Infow("initializing storage", "datadir", cfg.Datadir, "type", cfg.DB.Type)
	database, err := metadb.New(cfg.DB.Type, cfg.Datadir, cfg.DB.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	services.Storage = storage.New(database)

	p, verifier, err := newProver(cfg, h)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prover: %w", err)
	}

	if cfg.Ledger.URL != "" {
		log.Infow("using remote ledger", "url", cfg.Ledger.URL)
		remote, err := client.New(ctx, cfg.Ledger.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to ledger: %w", err)
		}
		services.Ledger = remote
	} else {
		local := ledger.NewLocal(services.Storage, h, verifier)
		services.Ledger = local
		if cfg.API.Enabled {
			log.Infow("starting API service", "host", cfg.API.Host, "port", cfg.API.Port)
			services.API = service.NewAPI(local, cfg.API.Host, cfg.API.Port, cfg.API.DisableLogging)
			if err := services.API.Start(ctx); err != nil {
				return nil, fmt.Errorf("failed to start API service: %w", err)
			}
		}
	}

	if cfg.Tallier.Enabled {
		identity, err := eddsa.FromHex(cfg.Tallier.PrivKey)
		if err != nil {
			return nil, fmt.Errorf("invalid tallier key: %w", err)
		}
		engine, err := tally.New(&tally.Config{
			PollID:       types.PollID(cfg.Tallier.PollID),
			Identity:     identity,
			Ledger:       services.Ledger,
			Store:        services.Storage,
			Prover:       p,
			Hasher:       h,
			ProveTimeout: cfg.Prover.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create tally engine: %w", err)
		}
		log.Infow("starting tallier service", "poll", cfg.Tallier.PollID, "tallier", engine.Tallier(),
			"interval", cfg.Tallier.Interval.String())
		services.Tallier = service.NewTallier(engine, services.Ledger, cfg.Tallier.Interval, cfg.Tallier.AutoFinalize)
		if err := services.Tallier.Start(ctx); err != nil {
			return nil, fmt.Errorf("failed to start tallier service: %w", err)
		}
	}

	log.Infow("anonvote-node is running")
	return services, nil
}

// shutdownServices gracefully shuts down all services
func shutdownServices(services *Services) {
	if services == nil {
		return
	}
	if services.Tallier != nil {
		services.Tallier.Stop()
	}
	if services.API != nil {
		services.API.Stop()
	}
	if services.Storage != nil {
		services.Storage.Close()
	}
}
