// Package operator asks a human to confirm risky actions before the trader
// commits funds. Confirmation can come from the terminal or from Telegram;
// unattended deployments use the auto approver.
package operator

import "context"

// Interactor is the operator side of a trade confirmation.
type Interactor interface {
	// Decide asks a yes/no question and blocks until the operator answers
	// or ctx expires.
	Decide(ctx context.Context, question string) (bool, error)
	// Send pushes a one-way status message to the operator.
	Send(ctx context.Context, message string) error
}

// AutoApprover answers every question with a fixed decision. Used when the
// daemon runs unattended.
type AutoApprover struct {
	Approve bool
}

func (a AutoApprover) Decide(ctx context.Context, question string) (bool, error) {
	return a.Approve, nil
}

func (a AutoApprover) Send(ctx context.Context, message string) error {
	return nil
}
