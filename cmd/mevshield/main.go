// Command mevshield watches an Ethereum node and runs every configured
// detector over each confirmed transaction, writing findings as JSON lines.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/foundermafstat/mevshield/internal/chain"
	"github.com/foundermafstat/mevshield/internal/config"
	"github.com/foundermafstat/mevshield/internal/detector"
	"github.com/foundermafstat/mevshield/internal/finding"
	"github.com/foundermafstat/mevshield/internal/logging"
	"github.com/foundermafstat/mevshield/internal/metrics"
)

const (
	// maxRPCFailures is how many consecutive failures an endpoint may
	// accumulate before it is benched.
	maxRPCFailures = 3
	// rpcCooldown is how long a benched endpoint stays out of rotation.
	rpcCooldown = 2 * time.Minute
	// headStallLimit drops a session that stops delivering headers.
	headStallLimit = 2 * time.Minute
)

// rpcState tracks consecutive failures for one configured endpoint.
type rpcState struct {
	failures      int
	disabledUntil time.Time
}

type runner struct {
	cfg        *config.Config
	log        zerolog.Logger
	dispatcher *detector.Dispatcher
	node       *chain.RotatingGateway
	chainID    *big.Int

	rpcIndex int
	health   []rpcState

	fileLock sync.Mutex
	out      *os.File
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration YAML")
	testConfig := flag.Bool("t", false, "Test configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}
	if *testConfig {
		fmt.Println("Configuration OK")
		return
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	m := metrics.NewDetectorMetrics()
	metrics.Register(m)
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Info().Str("addr", cfg.Metrics).Msg("metrics server listening")
		if err := http.ListenAndServe(cfg.Metrics, nil); err != nil {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received")
		rootCancel()
	}()

	out, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open output file")
	}
	defer func() { _ = out.Close() }()

	// Detectors are constructed exactly once: their state (the MEV swap
	// window, the multisig owner cache, 2FA enrollment) lives for the whole
	// process and must survive RPC reconnects. Only the node client behind
	// the gateway is replaced per session.
	node := &chain.RotatingGateway{}
	gw := &chain.MeasuredGateway{Inner: node, Failures: m.GatewayFailures}
	dispatcher, err := buildDispatcher(cfg, gw, log, m)
	if err != nil {
		log.Fatal().Err(err).Msg("detector construction failed")
	}

	r := &runner{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		node:       node,
		health:     make([]rpcState, len(cfg.RPC)),
		out:        out,
	}
	r.run(rootCtx)
	log.Info().Msg("graceful shutdown complete")
}

func (r *runner) run(rootCtx context.Context) {
	for rootCtx.Err() == nil {
		idx := r.nextRPC()
		if idx < 0 {
			r.log.Warn().Msg("all rpc endpoints benched, waiting")
			sleepCtx(rootCtx, 5*time.Second)
			continue
		}
		rpcCfg := r.cfg.RPC[idx]
		url := config.BuildRPCURL(rpcCfg.URL, rpcCfg.APIKey)

		client, err := ethclient.Dial(url)
		if err != nil {
			r.log.Warn().Err(err).Str("rpc", url).Msg("rpc connection failed, trying next")
			r.recordFailure(idx)
			sleepCtx(rootCtx, 5*time.Second)
			continue
		}

		chainID, err := client.ChainID(rootCtx)
		if err != nil {
			r.log.Warn().Err(err).Str("rpc", url).Msg("chain id fetch failed")
			client.Close()
			r.recordFailure(idx)
			sleepCtx(rootCtx, 5*time.Second)
			continue
		}
		r.chainID = chainID
		r.health[idx] = rpcState{}
		r.log.Info().Str("rpc", url).Str("chainId", chainID.String()).Msg("connected")

		r.node.SetClient(client)
		r.watch(rootCtx, client)
		r.node.SetClient(nil)
		client.Close()
		r.log.Info().Msg("session ended, reconnecting")
	}
}

// nextRPC picks the next endpoint not currently benched, round robin.
// Returns -1 when every endpoint is cooling down.
func (r *runner) nextRPC() int {
	n := len(r.cfg.RPC)
	for i := 0; i < n; i++ {
		idx := (r.rpcIndex + i) % n
		if time.Now().After(r.health[idx].disabledUntil) {
			r.rpcIndex = idx + 1
			return idx
		}
	}
	return -1
}

// recordFailure benches an endpoint once its consecutive failures reach
// maxRPCFailures.
func (r *runner) recordFailure(idx int) {
	r.health[idx].failures++
	if r.health[idx].failures >= maxRPCFailures {
		r.health[idx] = rpcState{disabledUntil: time.Now().Add(rpcCooldown)}
		r.log.Warn().Str("rpc", r.cfg.RPC[idx].URL).Dur("cooldown", rpcCooldown).Msg("rpc endpoint benched")
	}
}

func buildDispatcher(cfg *config.Config, gw chain.Gateway, log zerolog.Logger, m *metrics.DetectorMetrics) (*detector.Dispatcher, error) {
	var detectors []detector.Detector
	for _, name := range cfg.Detectors {
		switch name {
		case "phishing":
			d, err := detector.NewPhishingDetector(gw, config.Addresses(cfg.Phishing.KnownAddresses))
			if err != nil {
				return nil, err
			}
			detectors = append(detectors, d)
		case "mev":
			d, err := detector.NewMEVDetector(gw, config.Addresses(cfg.MEV.Routers))
			if err != nil {
				return nil, err
			}
			detectors = append(detectors, d)
		case "multisig":
			d, err := detector.NewMultisigDetector(gw)
			if err != nil {
				return nil, err
			}
			detectors = append(detectors, d)
		case "approval":
			d, err := detector.NewApprovalDetector(gw,
				config.Addresses(cfg.Approval.SafeContracts),
				config.Addresses(cfg.Approval.MaliciousAddresses))
			if err != nil {
				return nil, err
			}
			detectors = append(detectors, d)
		case "twofactor":
			detectors = append(detectors, detector.NewTwoFactorDetector())
		default:
			return nil, fmt.Errorf("unknown detector %q in config", name)
		}
	}
	return detector.NewDispatcher(log, m, detectors...)
}

func (r *runner) watch(ctx context.Context, client *ethclient.Client) {
	headers := make(chan *types.Header)
	sub, err := client.SubscribeNewHead(ctx, headers)
	if err != nil {
		r.log.Error().Err(err).Msg("header subscription failed")
		sleepCtx(ctx, 5*time.Second)
		return
	}
	defer sub.Unsubscribe()

	stall := time.NewTimer(headStallLimit)
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stall.C:
			r.log.Warn().Dur("limit", headStallLimit).Msg("no new heads, dropping session")
			return
		case err := <-sub.Err():
			r.log.Error().Err(err).Msg("header subscription error")
			return
		case header := <-headers:
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(headStallLimit)

			block, err := client.BlockByHash(ctx, header.Hash())
			if err != nil {
				r.log.Warn().Err(err).Str("block", header.Hash().Hex()).Msg("block lookup error")
				continue
			}
			r.processBlock(ctx, client, block)
		}
	}
}

func (r *runner) processBlock(ctx context.Context, client *ethclient.Client, block *types.Block) {
	signer := types.LatestSignerForChainID(r.chainID)
	for _, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			continue
		}
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			r.log.Debug().Err(err).Str("tx", tx.Hash().Hex()).Msg("receipt lookup error")
			receipt = nil
		}
		event := chain.BuildEvent(tx, from, receipt, block.Time())
		if event.BlockNumber == 0 {
			event.BlockNumber = block.NumberU64()
		}
		r.dispatch(ctx, event)
	}
}

// dispatch fans the event out across the detectors. Each detector is its
// own instance, so running them concurrently keeps the per-detector
// serialization guarantee.
func (r *runner) dispatch(ctx context.Context, event *chain.TransactionEvent) {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range r.dispatcher.Names() {
		name := name
		g.Go(func() error {
			findings, err := r.dispatcher.Dispatch(gctx, name, event)
			if err != nil {
				return err
			}
			for _, f := range findings {
				r.writeFinding(name, event, f)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Error().Err(err).Msg("dispatch error")
	}
}

type findingRecord struct {
	Detector string          `json:"detector"`
	TxHash   string          `json:"txHash"`
	Block    uint64          `json:"block"`
	Finding  finding.Finding `json:"finding"`
}

func (r *runner) writeFinding(detectorName string, event *chain.TransactionEvent, f finding.Finding) {
	r.fileLock.Lock()
	defer r.fileLock.Unlock()

	writer := bufio.NewWriter(r.out)
	b, err := json.Marshal(findingRecord{
		Detector: detectorName,
		TxHash:   event.Hash.Hex(),
		Block:    event.BlockNumber,
		Finding:  f,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("json marshal error")
		return
	}
	_, _ = writer.Write(b)
	_, _ = writer.Write([]byte("\n"))
	_ = writer.Flush()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
