package blockchain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/store"
)

// DefaultTxPoolCapacity bounds the mempool.
const DefaultTxPoolCapacity = 4096

// TxPool holds transactions awaiting confirmation. The map is guarded by a
// sync.RWMutex: many readers, one writer. A read lock is never upgraded in
// place; writers take the write lock from the start.
type TxPool struct {
	mu sync.RWMutex

	params   *consensus.Params
	store    *store.Store
	txv      *TxValidator
	log      *zap.Logger
	capacity int

	txs    map[chainhash.Hash]*chain.Transaction
	spends map[chain.OutputPoint]chainhash.Hash
}

func NewTxPool(params *consensus.Params, s *store.Store, capacity int, log *zap.Logger) *TxPool {
	if capacity <= 0 {
		capacity = DefaultTxPoolCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TxPool{
		params:   params,
		store:    s,
		txv:      NewTxValidator(params, s),
		log:      log,
		capacity: capacity,
		txs:      make(map[chainhash.Hash]*chain.Transaction),
		spends:   make(map[chain.OutputPoint]chainhash.Hash),
	}
}

// Accept validates and admits a loose transaction.
func (p *TxPool) Accept(tx *chain.Transaction) error {
	if err := p.txv.CheckStateless(tx, false); err != nil {
		return err
	}
	if tx.IsCoinbase() {
		return chain.NewError(chain.ErrCoinbaseMisshape, "loose coinbase rejected")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, ok := p.txs[hash]; ok {
		return chain.Errorf(chain.ErrDuplicateTx, "transaction %s already pooled", hash)
	}
	if len(p.txs) >= p.capacity {
		return chain.NewError(chain.ErrDuplicateTx, "transaction pool full")
	}
	// I2: no output may be double-booked, in the pool or on chain.
	for i := range tx.Inputs {
		point := tx.Inputs[i].PreviousOutput
		if prior, ok := p.spends[point]; ok {
			return chain.Errorf(chain.ErrDoubleSpend,
				"output %s:%d already spent by pooled %s", point.Hash, point.Index, prior)
		}
		unspent, err := p.store.IsUnspent(point)
		if err != nil {
			return err
		}
		if !unspent {
			return chain.Errorf(chain.ErrDoubleSpend,
				"output %s:%d missing or spent on chain", point.Hash, point.Index)
		}
	}

	height, _, err := p.store.LastHeight()
	if err != nil {
		return err
	}
	view := NewUtxoView(p.store, height+1)
	timestamps, err := p.store.MedianTimestamps(height, consensus.MedianTimeSpan)
	if err != nil {
		return err
	}
	if err := p.txv.CheckConnected(tx, view, consensus.MedianTimePast(timestamps)); err != nil {
		return err
	}

	p.txs[hash] = tx
	for i := range tx.Inputs {
		p.spends[tx.Inputs[i].PreviousOutput] = hash
	}
	return nil
}

// Get returns a pooled transaction.
func (p *TxPool) Get(hash chainhash.Hash) (*chain.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, ok := p.txs[hash]
	return tx, ok
}

// Size returns the number of pooled transactions.
func (p *TxPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.txs)
}

// All returns a snapshot of the pooled transactions.
func (p *TxPool) All() []*chain.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*chain.Transaction, 0, len(p.txs))
	for _, tx := range p.txs {
		out = append(out, tx)
	}
	return out
}

// OnBlockConnected evicts confirmed transactions, drops pool entries that now
// conflict with the chain, and re-validates the remainder against the new tip.
func (p *TxPool) OnBlockConnected(b *chain.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range b.Transactions {
		p.removeLocked(b.Transactions[i].Hash())
	}
	// Conflicts: any pooled tx spending an output the block consumed.
	confirmedSpends := make(map[chain.OutputPoint]bool)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		for j := range tx.Inputs {
			if !tx.Inputs[j].PreviousOutput.IsNull() {
				confirmedSpends[tx.Inputs[j].PreviousOutput] = true
			}
		}
	}
	for hash, tx := range p.txs {
		for i := range tx.Inputs {
			if confirmedSpends[tx.Inputs[i].PreviousOutput] {
				p.removeLocked(hash)
				p.log.Debug("pooled transaction conflicted out",
					zap.String("hash", hash.String()))
				break
			}
		}
	}
	// Re-validate the remainder against the new tip.
	height, _, err := p.store.LastHeight()
	if err != nil {
		return
	}
	timestamps, err := p.store.MedianTimestamps(height, consensus.MedianTimeSpan)
	if err != nil {
		return
	}
	for hash, tx := range p.txs {
		view := NewUtxoView(p.store, height+1)
		if err := p.txv.CheckConnected(tx, view, consensus.MedianTimePast(timestamps)); err != nil {
			p.removeLocked(hash)
		}
	}
}

// OnBlockDisconnected returns a popped block's transactions to the pool,
// coinbase and coinstake excluded.
func (p *TxPool) OnBlockDisconnected(b *chain.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if tx.IsCoinbase() || tx.IsCoinstake() {
			continue
		}
		hash := tx.Hash()
		if _, ok := p.txs[hash]; ok || len(p.txs) >= p.capacity {
			continue
		}
		conflict := false
		for j := range tx.Inputs {
			if _, ok := p.spends[tx.Inputs[j].PreviousOutput]; ok {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		p.txs[hash] = tx
		for j := range tx.Inputs {
			p.spends[tx.Inputs[j].PreviousOutput] = hash
		}
	}
}

// Remove drops a transaction from the pool.
func (p *TxPool) Remove(hash chainhash.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

func (p *TxPool) removeLocked(hash chainhash.Hash) {
	tx, ok := p.txs[hash]
	if !ok {
		return
	}
	delete(p.txs, hash)
	for i := range tx.Inputs {
		if p.spends[tx.Inputs[i].PreviousOutput] == hash {
			delete(p.spends, tx.Inputs[i].PreviousOutput)
		}
	}
}
