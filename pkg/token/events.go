package token

import "time"

// Class orders events for load shedding. Lower classes are dropped first when
// the intake queue passes its high watermark.
type Class int

const (
	ClassPoll     Class = iota // scheduled re-scores, cheapest to lose
	ClassMention               // chat calls from groups over quota
	ClassTrade                 // anonymous buyer counting
	ClassKOL                   // STANDARD / UNKNOWN tier buys
	ClassCritical              // ELITE and TOP_KOL buys plus graduations, never dropped
)

// Event is anything the tracker reacts to. Events for the same token are
// handled in arrival order; events for different tokens are independent.
type Event interface {
	EventMint() Mint
	EventClass() Class
}

// KOLBuyEvent is one trade by a curated wallet.
type KOLBuyEvent struct {
	Token    Mint
	Wallet   string
	Buyer    string // on-chain buyer address, normally the wallet itself
	Kind     TxKind
	Tier     Tier
	Notional float64 // estimated USD
	CurvePct float64 // bonding-curve percent at entry, 0 when unknown
	At       time.Time
}

func (e KOLBuyEvent) EventMint() Mint { return e.Token }

func (e KOLBuyEvent) EventClass() Class {
	switch e.Tier {
	case TierElite, TierTopKOL:
		return ClassCritical
	}
	return ClassKOL
}

// TradeEvent is a non-KOL trade summary from the same webhook feed. It only
// grows the unique-buyer set.
type TradeEvent struct {
	Token Mint
	Buyer string
	Kind  TxKind
	At    time.Time
}

func (e TradeEvent) EventMint() Mint   { return e.Token }
func (e TradeEvent) EventClass() Class { return ClassTrade }

// ChatMentionEvent is one deduplicated group call.
type ChatMentionEvent struct {
	Token Mint
	Group string
	Text  string
	At    time.Time
}

func (e ChatMentionEvent) EventMint() Mint   { return e.Token }
func (e ChatMentionEvent) EventClass() Class { return ClassMention }

// GraduationEvent marks curve completion, which switches the emit threshold.
type GraduationEvent struct {
	Token Mint
	At    time.Time
}

func (e GraduationEvent) EventMint() Mint   { return e.Token }
func (e GraduationEvent) EventClass() Class { return ClassCritical }

// PollTick asks for one scheduled re-score.
type PollTick struct {
	Token Mint
}

func (e PollTick) EventMint() Mint   { return e.Token }
func (e PollTick) EventClass() Class { return ClassPoll }
