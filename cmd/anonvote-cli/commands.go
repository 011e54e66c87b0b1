package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/vocdoni/anonvote-node/api/client"
	"github.com/vocdoni/anonvote-node/ballot"
	"github.com/vocdoni/anonvote-node/census"
	"github.com/vocdoni/anonvote-node/crypto/hash/poseidon"
	"github.com/vocdoni/anonvote-node/crypto/signatures/eddsa"
	"github.com/vocdoni/anonvote-node/db"
	"github.com/vocdoni/anonvote-node/db/metadb"
	"github.com/vocdoni/anonvote-node/prover"
	"github.com/vocdoni/anonvote-node/prover/circom"
	"github.com/vocdoni/anonvote-node/prover/debug"
	"github.com/vocdoni/anonvote-node/storage"
	"github.com/vocdoni/anonvote-node/types"
)

// keygen prints a fresh identity key and its census leaf.
func keygen(_ context.Context, args []string) error {
	fs := newFlagSet("keygen")
	if err := fs.Parse(args); err != nil {
		return err
	}
	h := poseidon.New()
	key := eddsa.Generate()
	leaf, err := census.Leaf(h, key.Public())
	if err != nil {
		return err
	}
	fmt.Printf("privkey: %s\n", key.Hex())
	fmt.Printf("leaf:    %s\n", types.MustWord(leaf))
	return nil
}

// buildCensus reads one hex leaf per line and writes the census file.
func buildCensus(_ context.Context, args []string) error {
	fs := newFlagSet("census")
	in := fs.StringP("leaves", "i", "", "file with one hex census leaf per line (required)")
	out := fs.StringP("out", "o", "census.bin", "census file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("--leaves is required")
	}
	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var leaves []*big.Int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		b, err := types.HexStringToHexBytes(line)
		if err != nil {
			return err
		}
		leaves = append(leaves, b.BigInt())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	h := poseidon.New()
	tree, err := census.New(h, leaves)
	if err != nil {
		return err
	}
	data, err := census.EncodeFile(tree.Leaves())
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("census: %s (%d voters)\nroot:   %s\n", *out, tree.Size(), types.MustWord(tree.Root()))
	return nil
}

// censusFlags registers the flags needed to fetch census files.
type censusFlags struct {
	s3 census.S3Config
}

func (cf *censusFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&cf.s3.Endpoint, "s3.endpoint", "", "S3 compatible endpoint for s3:// census URLs")
	fs.StringVar(&cf.s3.Region, "s3.region", "", "S3 region")
	fs.StringVar(&cf.s3.AccessKey, "s3.accessKey", os.Getenv("ANONVOTE_S3_ACCESSKEY"), "S3 access key")
	fs.StringVar(&cf.s3.SecretKey, "s3.secretKey", os.Getenv("ANONVOTE_S3_SECRETKEY"), "S3 secret key")
}

func (cf *censusFlags) fetcher(ctx context.Context, h *poseidon.Hasher, uri string) (*census.Fetcher, error) {
	plugins := []census.ImporterPlugin{census.HTTPImporter(nil), census.FileImporter()}
	if strings.HasPrefix(uri, "s3://") {
		s3, err := census.S3Importer(ctx, cf.s3)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, s3)
	}
	return census.NewFetcher(h, plugins...), nil
}

// createPoll registers a poll whose census is published at a URL.
func createPoll(ctx context.Context, args []string) error {
	fs := newFlagSet("create-poll")
	ledgerURL := fs.String("ledger", defaultLedgerURL, "ledger API URL")
	censusURL := fs.String("census", "", "census file URL: file://, http(s):// or s3:// (required)")
	coordinator := fs.String("coordinator", "", "coordinator private key (hex); a new one is generated if empty")
	nChoices := fs.Uint8("choices", 2, "number of choices")
	start := fs.Duration("start", 0, "voting starts after this delay")
	duration := fs.Duration("duration", time.Hour, "length of the voting window")
	description := fs.String("description", "", "description URL")
	var cf censusFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *censusURL == "" {
		return fmt.Errorf("--census is required")
	}

	h := poseidon.New()
	fetcher, err := cf.fetcher(ctx, h, *censusURL)
	if err != nil {
		return err
	}
	tree, err := fetcher.Fetch(ctx, *censusURL, nil)
	if err != nil {
		return err
	}
	key := eddsa.Generate()
	if *coordinator != "" {
		if key, err = eddsa.FromHex(*coordinator); err != nil {
			return err
		}
	}
	ck, err := key.Public().Wire()
	if err != nil {
		return err
	}
	cli, err := client.New(ctx, *ledgerURL)
	if err != nil {
		return err
	}
	begin := time.Now().Add(*start)
	poll, err := cli.CreatePoll(ctx, &types.Poll{
		NChoices:       *nChoices,
		CoordinatorKey: ck,
		CensusRoot:     types.MustWord(tree.Root()),
		CensusURL:      *censusURL,
		DescriptionURL: *description,
		VotingStart:    begin,
		VotingEnd:      begin.Add(*duration),
	})
	if err != nil {
		return err
	}
	fmt.Printf("poll:        %s\nvoters:      %d\nvoting:      %s - %s\n", poll.ID, tree.Size(),
		poll.VotingStart.Format(time.RFC3339), poll.VotingEnd.Format(time.RFC3339))
	if *coordinator == "" {
		fmt.Printf("coordinator: %s\n", key.Hex())
	}
	return nil
}

// vote builds, proves and casts a ballot. The revoting key of the voter is
// kept in a local database so the next vote can replace this one.
func vote(ctx context.Context, args []string) error {
	fs := newFlagSet("vote")
	ledgerURL := fs.String("ledger", defaultLedgerURL, "ledger API URL")
	pollID := fs.Uint64("poll", 0, "poll id (required)")
	privKey := fs.StringP("privkey", "k", "", "voter identity private key (hex, required)")
	choice := fs.Int("choice", 0, "choice, from 1 to the number of choices of the poll")
	keysDir := fs.String("keys", filepath.Join(os.TempDir(), "anonvote-keys"), "directory keeping the revoting keys")
	proverType := fs.String("prover", "debug", "vote prover (debug, circom)")
	wasm := fs.String("vote.wasm", "", "vote circuit witness calculator, for the circom prover")
	zkey := fs.String("vote.zkey", "", "vote circuit proving key, for the circom prover")
	var cf censusFlags
	cf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pollID == 0 || *privKey == "" {
		return fmt.Errorf("--poll and --privkey are required")
	}
	identity, err := eddsa.FromHex(*privKey)
	if err != nil {
		return err
	}
	h := poseidon.New()
	voter, err := identity.Identity(h)
	if err != nil {
		return err
	}

	cli, err := client.New(ctx, *ledgerURL)
	if err != nil {
		return err
	}
	poll, err := cli.Poll(ctx, types.PollID(*pollID))
	if err != nil {
		return err
	}
	fetcher, err := cf.fetcher(ctx, h, poll.CensusURL)
	if err != nil {
		return err
	}
	tree, err := fetcher.Fetch(ctx, poll.CensusURL, poll.CensusRoot.BigInt())
	if err != nil {
		return err
	}

	database, err := metadb.New(db.TypePebble, *keysDir, "")
	if err != nil {
		return err
	}
	keys := storage.New(database)
	defer keys.Close()
	old, err := keys.RevotingKey(poll.ID, voter)
	if errors.Is(err, storage.ErrNotFound) {
		old = nil
	} else if err != nil {
		return err
	}
	next := eddsa.Generate()

	v, err := ballot.NewBuilder(h).Build(&ballot.VoteRequest{
		Identity:       identity,
		Poll:           poll,
		Census:         tree,
		RevotingKeyOld: old,
		RevotingKeyNew: next,
		Choice:         *choice,
	})
	if err != nil {
		return err
	}
	var p prover.Prover = debug.New(h)
	if *proverType == "circom" {
		artifacts, err := circom.LoadArtifacts(*wasm, *zkey, "")
		if err != nil {
			return err
		}
		p = circom.New(artifacts, nil)
	}
	proof, err := p.ProveVote(ctx, v.Inputs)
	if err != nil {
		return err
	}
	data, err := proof.Marshal()
	if err != nil {
		return err
	}
	stored, err := cli.CastBallot(ctx, poll.ID, &types.VoteSubmission{Ballot: v.Ballot, Proof: data})
	if err != nil {
		return err
	}
	if err := keys.SetRevotingKey(poll.ID, voter, next); err != nil {
		return fmt.Errorf("ballot %d cast but the revoting key could not be saved: %w", stored.SequenceID, err)
	}
	fmt.Printf("ballot %d cast, revote: %t\n", stored.SequenceID, old != nil)
	return nil
}

// results prints the published counts of a poll.
func results(ctx context.Context, args []string) error {
	fs := newFlagSet("results")
	ledgerURL := fs.String("ledger", defaultLedgerURL, "ledger API URL")
	pollID := fs.Uint64("poll", 0, "poll id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cli, err := client.New(ctx, *ledgerURL)
	if err != nil {
		return err
	}
	poll, err := cli.Poll(ctx, types.PollID(*pollID))
	if err != nil {
		return err
	}
	counts, err := cli.Results(ctx, poll.ID)
	if err != nil {
		return err
	}
	for n, count := range counts {
		if n >= int(poll.NChoices) {
			break
		}
		fmt.Printf("choice %d: %s\n", n+1, count)
	}
	return nil
}
