package blockchain

import (
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/store"
)

// OrphanPoolCapacity bounds the blocks waiting for a parent.
const OrphanPoolCapacity = 64

// rejectCacheSize bounds the remembered invalid block hashes.
const rejectCacheSize = 1024

// Organizer accepts incoming blocks, resolves orphans and executes
// reorganizations by cumulative work. All mutation is serialized on one
// writer mutex; no two blocks connect concurrently.
type Organizer struct {
	mu sync.Mutex

	params *consensus.Params
	store  *store.Store
	txv    *TxValidator
	blockv *BlockValidator
	pool   *TxPool
	log    *zap.Logger

	orphans     map[chainhash.Hash]*chain.Block
	orphanOrder []chainhash.Hash
	rejected    *lru.Cache[chainhash.Hash, struct{}]
	subs        subscriber

	stopped bool
}

func NewOrganizer(params *consensus.Params, s *store.Store, pool *TxPool, log *zap.Logger) *Organizer {
	if log == nil {
		log = zap.NewNop()
	}
	rejected, _ := lru.New[chainhash.Hash, struct{}](rejectCacheSize)
	return &Organizer{
		params:   params,
		store:    s,
		txv:      NewTxValidator(params, s),
		blockv:   NewBlockValidator(params, s),
		pool:     pool,
		log:      log,
		orphans:  make(map[chainhash.Hash]*chain.Block),
		rejected: rejected,
	}
}

// SubscribeReorg registers a persistent chain-change handler.
func (o *Organizer) SubscribeReorg(h ReorgHandler) { o.subs.Subscribe(h) }

// SubscribeReorgOnce registers a one-shot chain-change handler.
func (o *Organizer) SubscribeReorgOnce(h ReorgHandler) { o.subs.SubscribeOnce(h) }

// Stop refuses further blocks and drops every subscriber.
func (o *Organizer) Stop() {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.subs.stop()
}

// OrphanCount reports the orphan pool size.
func (o *Organizer) OrphanCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.orphans)
}

// Receive accepts a block: connect at the tip, file as orphan, or trigger a
// reorganization when a side branch overtakes the main chain.
func (o *Organizer) Receive(b *chain.Block) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return chain.NewError(chain.ErrStopped, "organizer stopped")
	}

	hash := b.Hash()
	if _, bad := o.rejected.Get(hash); bad {
		return chain.Errorf(chain.ErrDuplicateTx, "block %s previously rejected", hash)
	}
	if _, known, err := o.store.GetBlockMeta(hash); err != nil {
		return err
	} else if known {
		return nil
	}

	if err := o.blockv.CheckContextFree(b); err != nil {
		o.rejected.Add(hash, struct{}{})
		return err
	}

	tip, hasTip, err := o.store.Tip()
	if err != nil {
		return err
	}
	if !hasTip {
		// Only the genesis block starts an empty chain.
		if b.Header.Previous != chain.NullHash {
			o.addOrphan(b)
			return chain.NewError(chain.ErrOrphanBlock, "no chain to attach to")
		}
		if err := o.store.PushBlock(b); err != nil {
			return err
		}
		o.subs.notify([]*chain.Block{b}, nil, 0)
		return nil
	}

	if b.Header.Previous == tip.Hash {
		if err := o.connectAtTip(b); err != nil {
			o.rejected.Add(hash, struct{}{})
			return err
		}
		o.connectReadyOrphans()
		return nil
	}

	// Not extending the tip: remember it and see whether its branch wins.
	o.addOrphan(b)
	won, err := o.tryReorg(b)
	if err != nil {
		return err
	}
	if !won {
		return chain.Errorf(chain.ErrOrphanBlock, "block %s parked off the main chain", hash)
	}
	o.connectReadyOrphans()
	return nil
}

// connectAtTip validates, pushes and announces a block extending the tip.
func (o *Organizer) connectAtTip(b *chain.Block) error {
	parentHeight, err := o.connectBlock(b)
	if err != nil {
		return err
	}
	if o.pool != nil {
		o.pool.OnBlockConnected(b)
	}
	o.subs.notify([]*chain.Block{b}, nil, parentHeight)
	return nil
}

// connectBlock validates and pushes a block extending the current tip,
// without mempool or subscriber side effects. Returns the parent height.
func (o *Organizer) connectBlock(b *chain.Block) (uint64, error) {
	tip, _, err := o.store.Tip()
	if err != nil {
		return 0, err
	}
	parentMeta, ok, err := o.store.GetBlockMeta(tip.Hash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, chain.NewError(chain.ErrStoreCorrupted, "tip block record missing")
	}
	parent := parentMeta.Header

	if err := o.blockv.CheckConnected(b, &parent); err != nil {
		return 0, err
	}

	height := uint64(parent.Number) + 1
	timestamps, err := o.store.MedianTimestamps(uint64(parent.Number), consensus.MedianTimeSpan)
	if err != nil {
		return 0, err
	}
	medianTime := consensus.MedianTimePast(timestamps)

	view := NewUtxoView(o.store, height)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if err := o.txv.CheckStateless(tx, true); err != nil {
			return 0, err
		}
		if err := o.txv.CheckConnected(tx, view, medianTime); err != nil {
			return 0, err
		}
		view.AddTransaction(tx)
	}

	if err := o.store.PushBlock(b); err != nil {
		return 0, err
	}
	o.log.Info("block connected",
		zap.Uint64("height", height),
		zap.String("hash", b.Hash().String()),
		zap.Uint32("version", b.Header.Version))
	return uint64(parent.Number), nil
}

// addOrphan files a block into the bounded orphan pool.
func (o *Organizer) addOrphan(b *chain.Block) {
	hash := b.Hash()
	if _, ok := o.orphans[hash]; ok {
		return
	}
	for len(o.orphans) >= OrphanPoolCapacity {
		oldest := o.orphanOrder[0]
		o.orphanOrder = o.orphanOrder[1:]
		delete(o.orphans, oldest)
		o.log.Info("orphan evicted", zap.String("hash", oldest.String()))
	}
	o.orphans[hash] = b
	o.orphanOrder = append(o.orphanOrder, hash)
}

func (o *Organizer) removeOrphan(hash chainhash.Hash) {
	if _, ok := o.orphans[hash]; !ok {
		return
	}
	delete(o.orphans, hash)
	for i, h := range o.orphanOrder {
		if h == hash {
			o.orphanOrder = append(o.orphanOrder[:i], o.orphanOrder[i+1:]...)
			break
		}
	}
}

// connectReadyOrphans repeatedly connects orphans whose parent became the
// tip.
func (o *Organizer) connectReadyOrphans() {
	for {
		tip, ok, err := o.store.Tip()
		if err != nil || !ok {
			return
		}
		var next *chain.Block
		for _, b := range o.orphans {
			if b.Header.Previous == tip.Hash {
				next = b
				break
			}
		}
		if next == nil {
			return
		}
		hash := next.Hash()
		o.removeOrphan(hash)
		if err := o.connectAtTip(next); err != nil {
			o.rejected.Add(hash, struct{}{})
			o.log.Debug("orphan rejected on connect",
				zap.String("hash", hash.String()), zap.Error(err))
			return
		}
	}
}

// branchFromOrphans assembles the orphan chain ending at b whose root parent
// is a main-chain block. Returns the branch oldest-first plus the fork
// point, or ok=false when the root is unknown.
func (o *Organizer) branchFromOrphans(b *chain.Block) ([]*chain.Block, chainhash.Hash, uint64, bool) {
	var branch []*chain.Block
	cur := b
	for {
		branch = append([]*chain.Block{cur}, branch...)
		parentHash := cur.Header.Previous
		meta, inStore, err := o.store.GetBlockMeta(parentHash)
		if err == nil && inStore {
			// Root must lie on the main chain.
			mainHash, ok, err := o.store.BlockHashAtHeight(uint64(meta.Header.Number))
			if err != nil || !ok || mainHash != parentHash {
				return nil, chainhash.Hash{}, 0, false
			}
			return branch, parentHash, uint64(meta.Header.Number), true
		}
		parent, ok := o.orphans[parentHash]
		if !ok {
			return nil, chainhash.Hash{}, 0, false
		}
		cur = parent
	}
}

// branchWork sums the claimed work of branch blocks on top of the fork
// point's cumulative work.
func (o *Organizer) branchWork(forkHash chainhash.Hash, branch []*chain.Block) (*big.Int, error) {
	meta, ok, err := o.store.GetBlockMeta(forkHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chain.NewError(chain.ErrStoreCorrupted, "fork block record missing")
	}
	work := new(big.Int).Set(meta.Work)
	for _, b := range branch {
		work.Add(work, consensus.WorkFromBits(b.Header.Bits))
	}
	return work, nil
}

// tryReorg checks whether the branch ending at b outworks the main chain
// and, if so, executes the switch. A failed branch connection reverts the
// store to the pre-reorg state and rejects the faulty block.
func (o *Organizer) tryReorg(b *chain.Block) (bool, error) {
	branch, forkHash, forkHeight, ok := o.branchFromOrphans(b)
	if !ok {
		return false, nil
	}
	branchWork, err := o.branchWork(forkHash, branch)
	if err != nil {
		return false, err
	}
	tip, _, err := o.store.Tip()
	if err != nil {
		return false, err
	}
	if branchWork.Cmp(tip.Work) <= 0 {
		return false, nil
	}

	o.log.Info("reorganizing",
		zap.Uint64("fork_height", forkHeight),
		zap.Uint64("main_height", tip.Height),
		zap.Int("branch_blocks", len(branch)))

	// Pop the main chain down to the fork point, newest first.
	var removed []*chain.Block
	for {
		cur, _, err := o.store.Tip()
		if err != nil {
			return false, err
		}
		if cur.Hash == forkHash {
			break
		}
		popped, err := o.store.PopBlock()
		if err != nil {
			return false, err
		}
		removed = append(removed, popped)
	}

	// Connect the branch block by block; revert wholesale on any failure.
	var connected []*chain.Block
	for _, nb := range branch {
		if _, err := o.connectBlock(nb); err != nil {
			o.rejected.Add(nb.Hash(), struct{}{})
			o.log.Warn("branch connection failed, reverting",
				zap.String("hash", nb.Hash().String()), zap.Error(err))
			if rerr := o.revertReorg(connected, removed); rerr != nil {
				return false, rerr
			}
			return false, err
		}
		connected = append(connected, nb)
		o.removeOrphan(nb.Hash())
	}

	// Freed transactions go back to the mempool, coinbase and coinstake
	// excluded; conflicts with the new branch drop during revalidation.
	if o.pool != nil {
		for _, rb := range removed {
			o.pool.OnBlockDisconnected(rb)
		}
		for _, nb := range connected {
			o.pool.OnBlockConnected(nb)
		}
	}
	o.subs.notify(connected, removed, forkHeight)
	return true, nil
}

// revertReorg pops the partially connected branch and replays the removed
// main-chain blocks in their original order.
func (o *Organizer) revertReorg(connected, removed []*chain.Block) error {
	for range connected {
		if _, err := o.store.PopBlock(); err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "revert pop failed: %v", err)
		}
	}
	for i := len(removed) - 1; i >= 0; i-- {
		if err := o.store.PushBlock(removed[i]); err != nil {
			return chain.Errorf(chain.ErrStoreCorrupted, "revert push failed: %v", err)
		}
	}
	return nil
}
