package token

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Mint is a token identifier. Once validated it is treated as an opaque key.
type Mint string

func (m Mint) String() string { return string(m) }

// Abbrev shortens an address for log lines.
func (m Mint) Abbrev() string { return Abbrev(string(m)) }

var base58Re = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// NeverTrack lists identifiers that must never create tracking state:
// wrapped native token and the major stables.
var NeverTrack = map[Mint]bool{
	"So11111111111111111111111111111111111111112": true, // wSOL
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": true, // USDC
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": true, // USDT
}

// ParseMint validates the shape of a mint address. EVM-style addresses are
// rejected outright; the tracker follows a single chain.
func ParseMint(raw string) (Mint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty mint", ErrInvalidInput)
	}
	if common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: evm address %s", ErrInvalidInput, Abbrev(s))
	}
	if !base58Re.MatchString(s) {
		return "", fmt.Errorf("%w: malformed mint %q", ErrInvalidInput, s)
	}
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return "", fmt.Errorf("%w: mint %s: %v", ErrInvalidInput, Abbrev(s), err)
	}
	return Mint(s), nil
}

// TxKind is the transaction direction.
type TxKind string

const (
	TxBuy  TxKind = "BUY"
	TxSell TxKind = "SELL"
)

// ParseTxKind maps webhook spellings onto a TxKind.
func ParseTxKind(s string) (TxKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "SWAP_BUY":
		return TxBuy, nil
	case "SELL", "SWAP_SELL":
		return TxSell, nil
	}
	return "", fmt.Errorf("%w: tx kind %q", ErrInvalidInput, s)
}

// Tier ranks a KOL wallet's historical quality.
type Tier string

const (
	TierElite    Tier = "ELITE"
	TierTopKOL   Tier = "TOP_KOL"
	TierStandard Tier = "STANDARD"
	TierUnknown  Tier = "UNKNOWN"
)

// Weight is the smart-wallet contribution of one distinct wallet of this tier.
func (t Tier) Weight() int {
	switch t {
	case TierElite:
		return 15
	case TierTopKOL:
		return 10
	case TierStandard:
		return 5
	}
	return 0
}

// ParseTier is forgiving: anything unrecognised is UNKNOWN.
func ParseTier(s string) Tier {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ELITE":
		return TierElite
	case "TOP_KOL", "TOP":
		return TierTopKOL
	case "STANDARD", "STD":
		return TierStandard
	}
	return TierUnknown
}

// KOLWallet is one curated tracked wallet. Tier and stats may be refreshed
// asynchronously; scoring reads whatever is current.
type KOLWallet struct {
	Address     string    `json:"address"`
	Name        string    `json:"name"`
	Tier        Tier      `json:"tier"`
	WinRate     float64   `json:"win_rate"`     // 0.0-1.0
	PnLEstimate float64   `json:"pnl_estimate"` // lifetime USD
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Trigger identifies what started tracking a token.
type Trigger string

const (
	TriggerKOLBuy     Trigger = "KOL_BUY"
	TriggerChatCall   Trigger = "CHAT_CALL"
	TriggerGraduation Trigger = "GRADUATION"
)

// Abbrev shortens an address for logs.
func Abbrev(a string) string {
	if len(a) > 12 {
		return a[:6] + "..." + a[len(a)-4:]
	}
	return a
}
