package node

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mvs-org/metaverse-go/blockchain"
	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/node/metrics"
	"github.com/mvs-org/metaverse-go/store"
)

// Node wires the store, mempool and organizer together and owns the ordered
// shutdown: stop intake, cancel timers, flush writes, release the lock.
type Node struct {
	cfg       Config
	params    *consensus.Params
	log       *zap.Logger
	store     *store.Store
	pool      *blockchain.TxPool
	organizer *blockchain.Organizer

	metricsSrv *http.Server
	metricsTick *time.Ticker
	done        chan struct{}
}

// ParamsForNetwork resolves the chain parameters of a named network.
func ParamsForNetwork(network string) *consensus.Params {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "testnet":
		return consensus.TestnetParams()
	case "regtest":
		return consensus.RegtestParams()
	default:
		return consensus.MainnetParams()
	}
}

// NewLogger builds the zap logger for a configured level.
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Open validates the configuration, opens the store, initializes the genesis
// block on first run, and builds the mempool and organizer.
func Open(cfg Config, log *zap.Logger) (*Node, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	params := ParamsForNetwork(cfg.Network)

	s, err := store.Open(cfg.DataDir, params, log.Named("store"))
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:    cfg,
		params: params,
		log:    log,
		store:  s,
		done:   make(chan struct{}),
	}
	if err := n.initGenesis(); err != nil {
		_ = s.Close()
		return nil, err
	}

	n.pool = blockchain.NewTxPool(params, s, cfg.TxPoolSize, log.Named("txpool"))
	n.organizer = blockchain.NewOrganizer(params, s, n.pool, log.Named("organizer"))
	return n, nil
}

// initGenesis pushes the embedded genesis on an empty store and asserts the
// stored one otherwise.
func (n *Node) initGenesis() error {
	genesis, err := GenesisBlock(n.cfg.Network)
	if err != nil {
		return err
	}
	height, ok, err := n.store.LastHeight()
	if err != nil {
		return err
	}
	if !ok {
		n.log.Info("initializing chain",
			zap.String("network", n.cfg.Network),
			zap.String("genesis", genesis.Hash().String()))
		return n.store.PushBlock(genesis)
	}
	stored, ok, err := n.store.BlockHashAtHeight(0)
	if err != nil {
		return err
	}
	if !ok || stored != genesis.Hash() {
		return chain.Errorf(chain.ErrStoreCorrupted,
			"store genesis %s does not match %s network", stored, n.cfg.Network)
	}
	n.log.Info("chain opened",
		zap.String("network", n.cfg.Network), zap.Uint64("height", height))
	return nil
}

// Store exposes the indexed store.
func (n *Node) Store() *store.Store { return n.store }

// Organizer exposes the chain organizer.
func (n *Node) Organizer() *blockchain.Organizer { return n.organizer }

// TxPool exposes the mempool.
func (n *Node) TxPool() *blockchain.TxPool { return n.pool }

// Params exposes the active network parameters.
func (n *Node) Params() *consensus.Params { return n.params }

// SubmitBlock feeds a block to the organizer, counting the outcome.
func (n *Node) SubmitBlock(b *chain.Block) error {
	err := n.organizer.Receive(b)
	if err != nil {
		metrics.BlocksRejected.Inc()
	}
	return err
}

// Start begins serving metrics (when configured) and the periodic gauge
// refresh.
func (n *Node) Start() error {
	metrics.Register()
	n.organizer.SubscribeReorg(func(added, removed []*chain.Block, forkHeight uint64) {
		metrics.BlocksConnected.Add(float64(len(added)))
		if len(removed) > 0 {
			metrics.Reorgs.Inc()
			metrics.ReorgDepth.Observe(float64(len(removed)))
		}
	})
	n.metricsTick = time.NewTicker(5 * time.Second)
	go n.refreshGauges()

	if n.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		n.metricsSrv = &http.Server{Addr: n.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := n.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				n.log.Error("metrics server failed", zap.Error(err))
			}
		}()
		n.log.Info("metrics listening", zap.String("addr", n.cfg.MetricsAddr))
	}
	return nil
}

func (n *Node) refreshGauges() {
	for {
		select {
		case <-n.done:
			return
		case <-n.metricsTick.C:
			if height, ok, err := n.store.LastHeight(); err == nil && ok {
				metrics.ChainHeight.Set(float64(height))
			}
			metrics.OrphanPoolSize.Set(float64(n.organizer.OrphanCount()))
			metrics.TxPoolSize.Set(float64(n.pool.Size()))
			metrics.StoreWriteSequence.Set(float64(n.store.Sequence()))
		}
	}
}

// Close shuts the node down in order: stop accepting work, cancel timers,
// flush pending writes, release the store lock.
func (n *Node) Close() error {
	n.organizer.Stop()

	if n.metricsTick != nil {
		n.metricsTick.Stop()
	}
	close(n.done)
	if n.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = n.metricsSrv.Shutdown(ctx)
	}

	err := n.store.Close()
	n.log.Info("node stopped")
	return err
}
