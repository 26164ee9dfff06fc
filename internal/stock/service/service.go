// Package service implements the stock lifecycle: the inventory ledger,
// FEFO batch allocation, the request approval workflow and the transfer
// dispatch protocol.
package service

import (
	"context"

	"github.com/pharmflow/pharmflow-backend/pkg/actor"
)

// acting resolves the actor on the context, falling back to the system
// identity for background and unauthenticated operations.
func acting(ctx context.Context) *actor.Actor {
	if a := actor.FromContext(ctx); a != nil {
		return a
	}
	return actor.SystemActor()
}
