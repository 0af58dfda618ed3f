package consensus

import (
	"math/big"

	"github.com/mvs-org/metaverse-go/chain"
)

// Coin denominations.
const (
	// CoinPrice is the satoshi count of one ETP.
	CoinPrice uint64 = 100_000_000

	// InitialBlockSubsidy is the coinbase value of the genesis era.
	InitialBlockSubsidy uint64 = 50 * CoinPrice

	// SubsidyHalvingInterval halves the PoW reward.
	SubsidyHalvingInterval uint64 = 500_000
)

// Fee policy.
const (
	// MinTxFee is the default minimum accept fee in satoshis.
	MinTxFee uint64 = 10_000

	// MinFeeToIssueAsset is the fee an asset issuance must carry.
	MinFeeToIssueAsset uint64 = 10 * CoinPrice

	// IssueFeePercentToMiner routes this share of the issue fee to the
	// miner when the percentage split path is active; the remainder goes
	// to the foundation address.
	IssueFeePercentToMiner uint64 = 20
)

// Timing and window constants shared by the consensus modes.
const (
	MedianTimeSpan = 11
	MaxFutureDrift = 2 * 60 * 60
	RetargetWindow = 24
)

// PoS parameters.
const (
	// StakeMinValue is the minimum value a UTXO must carry to stake.
	StakeMinValue uint64 = 1_000 * CoinPrice

	// StakeMinConfirmations is the stake maturity depth.
	StakeMinConfirmations uint64 = 1_000

	// StakeReuseWindow rejects re-use of a stake output within this many
	// recent blocks.
	StakeReuseWindow uint64 = 100

	// PosGenesisReward seeds the foundation address when PoS activates.
	PosGenesisReward uint64 = 2_100_000 * CoinPrice

	// PosMinLockedBalance is the locked balance a staking address needs.
	PosMinLockedBalance uint64 = 10_000 * CoinPrice
)

// DPoS parameters.
const (
	// WitnessNumber is the epoch witness set size drawn by FTS.
	WitnessNumber = 23

	// WitnessCertCount is the number of primary witness certs minted by
	// the PoS genesis block.
	WitnessCertCount = WitnessNumber

	// EpochCycleHeight is the epoch length in blocks.
	EpochCycleHeight uint64 = 10_000

	// DPoSSlotSeconds is the per-slot signing interval.
	DPoSSlotSeconds uint32 = 3
)

// Params carries everything network-dependent, threaded explicitly through
// the validators instead of living in globals.
type Params struct {
	Name string

	// Address encoding.
	P2KHVersion byte
	P2SHVersion byte

	// Wire magic for the P2P frame.
	Magic uint32

	// FoundationAddress receives the foundation share of issue fees and
	// the PoS genesis reward.
	FoundationAddress string

	// Per-version target block spacing in seconds.
	BlockSpacing map[uint32]uint32

	// MaxSuccessiveBlocks caps consecutive blocks of one version.
	MaxSuccessiveBlocks map[uint32]uint32

	// Activation heights.
	PosEnabledHeight  uint64
	DPosEnabledHeight uint64

	// MinimumDifficulty floors retargeting.
	MinimumDifficulty *big.Int

	CoinbaseMaturity uint64
}

// MainnetParams is the production network.
func MainnetParams() *Params {
	return &Params{
		Name:              "mainnet",
		P2KHVersion:       chain.MainnetP2KHVersion,
		P2SHVersion:       chain.MainnetP2SHVersion,
		Magic:             0x4d53564d,
		FoundationAddress: "MSCHL3unfVqzsZbRVCJ3yVp7RgAmXiuGN3",
		BlockSpacing: map[uint32]uint32{
			chain.BlockVersionPoW:  30,
			chain.BlockVersionPoS:  60,
			chain.BlockVersionDPoS: DPoSSlotSeconds,
		},
		MaxSuccessiveBlocks: map[uint32]uint32{
			chain.BlockVersionPoW:  24,
			chain.BlockVersionPoS:  24,
			chain.BlockVersionDPoS: 3,
		},
		PosEnabledHeight:  1_924_000,
		DPosEnabledHeight: 2_270_000,
		MinimumDifficulty: big.NewInt(300_000),
		CoinbaseMaturity:  1_000,
	}
}

// TestnetParams is the public test network.
func TestnetParams() *Params {
	return &Params{
		Name:              "testnet",
		P2KHVersion:       chain.TestnetP2KHVersion,
		P2SHVersion:       chain.TestnetP2SHVersion,
		Magic:             0x73766d74,
		FoundationAddress: "tBELxsootYZ67GL1cXA8HUWDBkYwrd76gY",
		BlockSpacing: map[uint32]uint32{
			chain.BlockVersionPoW:  30,
			chain.BlockVersionPoS:  60,
			chain.BlockVersionDPoS: DPoSSlotSeconds,
		},
		MaxSuccessiveBlocks: map[uint32]uint32{
			chain.BlockVersionPoW:  24,
			chain.BlockVersionPoS:  24,
			chain.BlockVersionDPoS: 6,
		},
		PosEnabledHeight:  990_000,
		DPosEnabledHeight: 1_000_000,
		MinimumDifficulty: big.NewInt(100),
		CoinbaseMaturity:  100,
	}
}

// RegtestParams is the in-process test network: minimal difficulty, instant
// activation, short maturity.
func RegtestParams() *Params {
	return &Params{
		Name:              "regtest",
		P2KHVersion:       chain.TestnetP2KHVersion,
		P2SHVersion:       chain.TestnetP2SHVersion,
		Magic:             0x74727672,
		FoundationAddress: "tBELxsootYZ67GL1cXA8HUWDBkYwrd76gY",
		BlockSpacing: map[uint32]uint32{
			chain.BlockVersionPoW:  1,
			chain.BlockVersionPoS:  1,
			chain.BlockVersionDPoS: 1,
		},
		MaxSuccessiveBlocks: map[uint32]uint32{
			chain.BlockVersionPoW:  12,
			chain.BlockVersionPoS:  12,
			chain.BlockVersionDPoS: 12,
		},
		PosEnabledHeight:  0,
		DPosEnabledHeight: 0,
		MinimumDifficulty: big.NewInt(1),
		CoinbaseMaturity:  1,
	}
}

// BlockSubsidy returns the PoW coinbase value at height.
func BlockSubsidy(height uint64) uint64 {
	halvings := height / SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return InitialBlockSubsidy >> halvings
}

// SuccessiveCap returns the consecutive-blocks cap for version, zero when
// the version is unknown.
func (p *Params) SuccessiveCap(version uint32) uint32 {
	return p.MaxSuccessiveBlocks[version]
}

// VersionAllowedAt reports whether a consensus mode may produce blocks at
// the given height.
func (p *Params) VersionAllowedAt(version uint32, height uint64) bool {
	switch version {
	case chain.BlockVersionPoW:
		return true
	case chain.BlockVersionPoS:
		return height >= p.PosEnabledHeight
	case chain.BlockVersionDPoS:
		return height >= p.DPosEnabledHeight
	default:
		return false
	}
}
