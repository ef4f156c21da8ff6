package option

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const bpsDenom = uint64(10_000)

// FeeSchedule tags the fee rule a series was configured under. Old
// series keep their configured schedule across policy upgrades.
type FeeSchedule uint8

const (
	// FeeFlat charges 3.5% of the quote payment for everyone except
	// exact-match exempt identities.
	FeeFlat FeeSchedule = iota
	// FeeTiered charges by asset class of the base/quote pair.
	FeeTiered
)

func (s FeeSchedule) String() string {
	switch s {
	case FeeFlat:
		return "flat"
	case FeeTiered:
		return "tiered"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func ParseFeeSchedule(raw string) (FeeSchedule, error) {
	switch raw {
	case "", "flat":
		return FeeFlat, nil
	case "tiered":
		return FeeTiered, nil
	default:
		return 0, fmt.Errorf("invalid fee schedule %q (expected flat|tiered)", raw)
	}
}

const flatFeeBps = uint64(350)

// Tiered schedule by asset class of the pair.
const (
	stablePairBps  = uint64(5)
	stableMajorBps = uint64(25)
	stablePartner  = uint64(50)
	majorPairBps   = uint64(5)
	defaultBps     = uint64(350)
)

// FeeConfig externalizes the identity allow-lists so they can change
// without touching policy logic. All comparisons are exact key matches.
type FeeConfig struct {
	// Recipient is the identity that must own the fee quote account.
	Recipient solana.PublicKey
	// Exempt identities pay no fee (the DAO and its risk manager).
	Exempt []solana.PublicKey

	Stable  []solana.PublicKey
	Major   []solana.PublicKey
	Partner []solana.PublicKey
}

type FeePolicy struct {
	cfg FeeConfig
}

func NewFeePolicy(cfg FeeConfig) *FeePolicy {
	return &FeePolicy{cfg: cfg}
}

func (p *FeePolicy) Recipient() solana.PublicKey {
	return p.cfg.Recipient
}

func (p *FeePolicy) IsFeeExempt(payer solana.PublicKey) bool {
	return containsKey(p.cfg.Exempt, payer)
}

// Bps returns the fee in basis points for a pair under the given
// schedule. Flat 3.5% is expressed as 350 bps so the same floor
// division serves both schedules.
func (p *FeePolicy) Bps(schedule FeeSchedule, baseMint, quoteMint solana.PublicKey) uint64 {
	if schedule == FeeFlat {
		return flatFeeBps
	}

	baseStable := containsKey(p.cfg.Stable, baseMint)
	quoteStable := containsKey(p.cfg.Stable, quoteMint)
	baseMajor := containsKey(p.cfg.Major, baseMint)
	quoteMajor := containsKey(p.cfg.Major, quoteMint)

	switch {
	case baseStable && quoteStable:
		return stablePairBps
	case (baseStable && quoteMajor) || (quoteStable && baseMajor):
		return stableMajorBps
	case (baseStable && containsKey(p.cfg.Partner, quoteMint)) ||
		(quoteStable && containsKey(p.cfg.Partner, baseMint)):
		return stablePartner
	case baseMajor && quoteMajor:
		return majorPairBps
	default:
		return defaultBps
	}
}

// SplitFee computes fee = floor(payment*bps/10000) and the remainder.
// The two always sum exactly back to payment.
func SplitFee(payment, bps uint64) (fee, net uint64, err error) {
	fee, err = MulDivFloor(payment, bps, bpsDenom)
	if err != nil {
		return 0, 0, err
	}
	net, err = CheckedSub(payment, fee)
	if err != nil {
		return 0, 0, err
	}
	return fee, net, nil
}

func containsKey(keys []solana.PublicKey, target solana.PublicKey) bool {
	for _, key := range keys {
		if key.Equals(target) {
			return true
		}
	}
	return false
}
