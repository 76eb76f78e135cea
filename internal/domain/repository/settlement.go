package repository

import (
	"context"

	"RFQHub/internal/domain/models"
)

// SettlementClient executes a selected quote downstream (on-chain or via a
// venue's settlement rail). Transaction construction and signing live behind
// this interface and are out of scope here.
type SettlementClient interface {
	// Settle executes the trade and returns a transaction reference.
	Settle(ctx context.Context, t *models.Trade) (string, error)
}
