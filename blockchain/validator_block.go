package blockchain

import (
	"time"

	"github.com/mvs-org/metaverse-go/chain"
	"github.com/mvs-org/metaverse-go/consensus"
	"github.com/mvs-org/metaverse-go/script"
	"github.com/mvs-org/metaverse-go/store"
)

// BlockValidator performs context-free and chain-contextual block checks and
// dispatches on the consensus mode the header names.
type BlockValidator struct {
	params *consensus.Params
	store  *store.Store

	// now is replaceable in tests.
	now func() time.Time
}

func NewBlockValidator(params *consensus.Params, s *store.Store) *BlockValidator {
	return &BlockValidator{params: params, store: s, now: time.Now}
}

// CheckContextFree verifies everything decidable from the block alone.
func (bv *BlockValidator) CheckContextFree(b *chain.Block) error {
	if !b.Header.IsKnownVersion() {
		return chain.Errorf(chain.ErrBadProofOfWork, "unknown block version %d", b.Header.Version)
	}
	if len(b.Transactions) == 0 {
		return chain.NewError(chain.ErrCoinbaseMisshape, "block has no transactions")
	}
	if size := b.SerializedSize(); size > chain.MaxBlockSerializedSize {
		return chain.Errorf(chain.ErrCoinbaseMisshape, "block size %d exceeds cap", size)
	}
	if !b.Transactions[0].IsCoinbase() {
		return chain.NewError(chain.ErrCoinbaseMisshape, "first transaction is not coinbase")
	}
	for i := 1; i < len(b.Transactions); i++ {
		if b.Transactions[i].IsCoinbase() {
			return chain.Errorf(chain.ErrCoinbaseMisshape, "extra coinbase at index %d", i)
		}
	}
	if root := chain.GenerateMerkleRoot(b.Transactions); root != b.Header.Merkle {
		return chain.NewError(chain.ErrBadMerkleRoot, "merkle root mismatch")
	}
	if maxTime := uint64(bv.now().Unix()) + consensus.MaxFutureDrift; uint64(b.Header.Timestamp) > maxTime {
		return chain.Errorf(chain.ErrBadTimestamp, "timestamp %d too far in the future", b.Header.Timestamp)
	}

	sigOps := 0
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		for j := range tx.Inputs {
			sigOps += script.CountRawSigOps(tx.Inputs[j].Script, false)
		}
		for j := range tx.Outputs {
			sigOps += script.CountRawSigOps(tx.Outputs[j].Script, false)
		}
	}
	if sigOps > script.MaxBlockSigOps {
		return chain.Errorf(chain.ErrInvalidScript, "block sigops %d exceed cap", sigOps)
	}

	// A signature is required for versions 2 and 3; the key for version 3.
	if (b.Header.IsProofOfStake() || b.Header.IsProofOfDPoS()) && len(b.BlockSig) == 0 {
		return chain.NewError(chain.ErrBadProofOfStake, "missing block signature")
	}
	if b.Header.IsProofOfDPoS() && len(b.PublicKey) == 0 {
		return chain.NewError(chain.ErrBadWitnessSlot, "missing signer public key")
	}
	return nil
}

// CheckConnected verifies a block against its place in the chain: timestamp
// versus median time past, version activation and the successive cap, and
// the consensus-mode proof.
func (bv *BlockValidator) CheckConnected(b *chain.Block, parent *chain.Header) error {
	height := uint64(parent.Number) + 1
	if uint64(b.Header.Number) != height {
		return chain.Errorf(chain.ErrOrphanBlock,
			"header number %d does not follow parent %d", b.Header.Number, parent.Number)
	}
	if !bv.params.VersionAllowedAt(b.Header.Version, height) {
		return chain.Errorf(chain.ErrBadProofOfWork,
			"version %d not active at height %d", b.Header.Version, height)
	}

	timestamps, err := bv.store.MedianTimestamps(uint64(parent.Number), consensus.MedianTimeSpan)
	if err != nil {
		return err
	}
	if mtp := consensus.MedianTimePast(timestamps); len(timestamps) > 0 && b.Header.Timestamp <= mtp {
		return chain.Errorf(chain.ErrBadTimestamp,
			"timestamp %d not after median time past %d", b.Header.Timestamp, mtp)
	}

	if err := bv.checkSuccessiveCap(b.Header.Version, uint64(parent.Number)); err != nil {
		return err
	}

	switch b.Header.Version {
	case chain.BlockVersionPoW:
		return bv.checkProofOfWork(b)
	case chain.BlockVersionPoS:
		return bv.checkProofOfStake(b, height)
	case chain.BlockVersionDPoS:
		return bv.checkDPoS(b, parent, height)
	}
	return nil
}

// checkSuccessiveCap rejects the K_v+1-th consecutive block of one version.
func (bv *BlockValidator) checkSuccessiveCap(version uint32, parentHeight uint64) error {
	cap := bv.params.SuccessiveCap(version)
	if cap == 0 {
		return nil
	}
	var run uint32
	h := parentHeight
	for {
		header, ok, err := bv.store.GetHeaderAtHeight(h)
		if err != nil {
			return err
		}
		if !ok || header.Version != version {
			break
		}
		run++
		if run >= cap {
			return chain.Errorf(chain.ErrBadTimestamp,
				"more than %d successive version-%d blocks", cap, version)
		}
		if h == 0 {
			break
		}
		h--
	}
	return nil
}

func (bv *BlockValidator) checkProofOfWork(b *chain.Block) error {
	if err := bv.checkDifficulty(&b.Header); err != nil {
		return err
	}
	return consensus.VerifyWork(&b.Header)
}

// checkDifficulty enforces the retarget schedule once a full same-version
// window exists; shorter histories only need the network floor.
func (bv *BlockValidator) checkDifficulty(h *chain.Header) error {
	if h.Bits == nil || h.Bits.Cmp(bv.params.MinimumDifficulty) < 0 {
		return chain.NewError(chain.ErrBadProofOfWork, "difficulty below network floor")
	}
	window, err := bv.sameVersionWindow(h.Version, uint64(h.Number)-1, consensus.RetargetWindow)
	if err != nil {
		return err
	}
	if len(window) < consensus.RetargetWindow {
		return nil
	}
	expected := consensus.NextDifficulty(bv.params, h.Version, window)
	if h.Bits.Cmp(expected) != 0 {
		return chain.Errorf(chain.ErrBadProofOfWork,
			"difficulty %s != retarget %s", h.Bits, expected)
	}
	return nil
}

// sameVersionWindow collects up to limit same-version headers at or below
// height, oldest first.
func (bv *BlockValidator) sameVersionWindow(version uint32, height uint64, limit int) ([]*chain.Header, error) {
	var reversed []*chain.Header
	h := height
	for len(reversed) < limit {
		header, ok, err := bv.store.GetHeaderAtHeight(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if header.Version == version {
			reversed = append(reversed, header)
		}
		if h == 0 {
			break
		}
		h--
	}
	out := make([]*chain.Header, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out, nil
}

func (bv *BlockValidator) checkProofOfStake(b *chain.Block, height uint64) error {
	if len(b.Transactions) < 2 {
		return chain.NewError(chain.ErrBadProofOfStake, "missing coinstake transaction")
	}
	coinbase := &b.Transactions[0]
	if len(coinbase.Outputs) == 0 || !coinbase.Outputs[0].IsEtpAward() {
		return chain.NewError(chain.ErrBadProofOfStake, "coinbase lacks award output")
	}
	coinstake := &b.Transactions[1]
	if !coinstake.IsCoinstake() {
		return chain.NewError(chain.ErrBadProofOfStake, "second transaction is not a coinstake")
	}

	stakePoint := coinstake.Inputs[0].PreviousOutput
	stakeTx, rec, ok, err := bv.store.GetTransaction(stakePoint.Hash)
	if err != nil {
		return err
	}
	if !ok || int(stakePoint.Index) >= len(stakeTx.Outputs) {
		return chain.NewError(chain.ErrBadProofOfStake, "stake output unknown")
	}
	stakeOut := &stakeTx.Outputs[stakePoint.Index]
	stake := consensus.StakeInfo{
		Point:  stakePoint,
		Value:  stakeOut.Value,
		Height: rec.Height,
	}
	if err := consensus.CheckStakeUtxoCapability(stake, height); err != nil {
		return err
	}
	if err := consensus.CheckStakeKernel(b.Header.Bits, stake, b.Header.Timestamp); err != nil {
		return err
	}
	if err := bv.checkStakeReuse(stakePoint, height); err != nil {
		return err
	}

	stakeAddress := script.ExtractAddress(stakeOut.Script, bv.params.P2KHVersion, bv.params.P2SHVersion)
	locked, err := bv.addressBalance(stakeAddress)
	if err != nil {
		return err
	}
	if err := consensus.CheckStakeAddressCapability(locked); err != nil {
		return err
	}

	// The coinstake signer's key signs the header.
	pubkey := lastPush(coinstake.Inputs[0].Script)
	if pubkey == nil {
		return chain.NewError(chain.ErrBadProofOfStake, "coinstake input lacks signer key")
	}
	return consensus.VerifyHeaderSignature(&b.Header, pubkey, b.BlockSig)
}

// checkStakeReuse rejects a stake output already used within the recent
// window.
func (bv *BlockValidator) checkStakeReuse(point chain.OutputPoint, height uint64) error {
	start := uint64(0)
	if height > consensus.StakeReuseWindow {
		start = height - consensus.StakeReuseWindow
	}
	for h := start; h < height; h++ {
		hash, ok, err := bv.store.BlockHashAtHeight(h)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		block, ok, err := bv.store.GetBlock(hash)
		if err != nil || !ok {
			return err
		}
		if !block.Header.IsProofOfStake() || len(block.Transactions) < 2 ||
			len(block.Transactions[1].Inputs) == 0 {
			continue
		}
		if block.Transactions[1].Inputs[0].PreviousOutput == point {
			return chain.Errorf(chain.ErrBadProofOfStake,
				"stake output reused within %d blocks", consensus.StakeReuseWindow)
		}
	}
	return nil
}

func (bv *BlockValidator) checkDPoS(b *chain.Block, parent *chain.Header, height uint64) error {
	// DPoS inherits the parent's difficulty unchanged.
	if parent.Bits == nil || b.Header.Bits == nil || b.Header.Bits.Cmp(parent.Bits) != 0 {
		return chain.NewError(chain.ErrBadWitnessSlot, "dpos bits must equal parent bits")
	}

	signer := consensus.WitnessAddress(bv.params, b.PublicKey)
	ws, epochStart, err := bv.witnessSetAt(height)
	if err != nil {
		return err
	}
	if !ws.Contains(signer) {
		return chain.Errorf(chain.ErrBadWitnessSlot, "%s is not an epoch witness", signer)
	}
	if err := consensus.VerifyDPosSlot(&b.Header, epochStart, ws, signer); err != nil {
		return err
	}
	return consensus.VerifyHeaderSignature(&b.Header, b.PublicKey, b.BlockSig)
}

// witnessSetAt draws the epoch witness set at the epoch boundary below
// height: stake-weighted FTS over history balances plus active witness
// certs.
func (bv *BlockValidator) witnessSetAt(height uint64) (*consensus.WitnessSet, uint32, error) {
	boundary := consensus.EpochBoundary(height)
	var boundaryHeight uint64
	if boundary > 0 {
		boundaryHeight = boundary - 1
	}
	hash, ok, err := bv.store.BlockHashAtHeight(boundaryHeight)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, chain.NewError(chain.ErrBadWitnessSlot, "epoch boundary block missing")
	}
	header, ok, err := bv.store.GetHeaderAtHeight(boundaryHeight)
	if err != nil || !ok {
		return nil, 0, chain.NewError(chain.ErrBadWitnessSlot, "epoch boundary header missing")
	}

	certs, err := bv.store.ListWitnessCerts()
	if err != nil {
		return nil, 0, err
	}
	holders := make([]consensus.StakeHolder, 0, len(certs))
	seen := map[string]bool{}
	for _, c := range certs {
		if c.Cert.Address == "" || seen[c.Cert.Address] {
			continue
		}
		seen[c.Cert.Address] = true
		balance, err := bv.addressBalance(c.Cert.Address)
		if err != nil {
			return nil, 0, err
		}
		// A witness cert itself weighs one stake unit.
		holders = append(holders, consensus.StakeHolder{
			Address: c.Cert.Address,
			Weight:  balance/consensus.CoinPrice + 1,
		})
	}
	epoch := consensus.EpochOfHeight(height)
	seed := consensus.EpochSeed(hash, epoch)
	ws := &consensus.WitnessSet{
		Epoch:     epoch,
		Witnesses: consensus.SelectWitnesses(seed, holders, consensus.WitnessNumber),
	}
	return ws, header.Timestamp, nil
}

// addressBalance sums the unspent history rows of an address.
func (bv *BlockValidator) addressBalance(address string) (uint64, error) {
	if address == "" {
		return 0, nil
	}
	rows, err := bv.store.FetchHistory(address)
	if err != nil {
		return 0, err
	}
	var balance uint64
	for _, row := range rows {
		switch row.Kind {
		case store.HistoryKindOutput:
			balance += row.Value
		case store.HistoryKindSpend:
			if balance >= row.Value {
				balance -= row.Value
			}
		}
	}
	return balance, nil
}

// lastPush returns the data of the final push operation of a script.
func lastPush(raw []byte) []byte {
	ops, err := script.Parse(raw)
	if err != nil || len(ops) == 0 {
		return nil
	}
	last := ops[len(ops)-1]
	if !last.Code.IsPush() || len(last.Data) == 0 {
		return nil
	}
	return last.Data
}
