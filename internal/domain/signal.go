package domain

import "time"

// WalletSignal is the scored wallet-activity event that can open a position.
// Discovery, clustering, and scoring happen upstream; the engine only consumes
// the final score.
type WalletSignal struct {
	ID          string
	Wallet      string
	TokenMint   string
	TokenSymbol string
	Score       float64
	PriceSol    float64 // token price observed when the signal fired
	ObservedAt  time.Time
}
