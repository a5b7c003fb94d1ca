package ledger

import (
	"context"
	"fmt"
)

// Sender signs single-instruction transactions with one Signer and submits
// them through a Client. The signer pays fees.
type Sender struct {
	client Client
	signer *Signer
}

// NewSender creates a Sender.
func NewSender(client Client, signer *Signer) *Sender {
	return &Sender{client: client, signer: signer}
}

// Signer returns the signing identity.
func (s *Sender) Signer() *Signer {
	return s.signer
}

// Submit compiles, signs and sends ix. The returned signature identifies the
// transaction for Confirm.
func (s *Sender) Submit(ctx context.Context, ix Instruction) (Signature, error) {
	blockhash, err := s.client.GetLatestBlockhash(ctx)
	if err != nil {
		return Signature{}, fmt.Errorf("fetching blockhash: %w", err)
	}

	msg, err := CompileMessage(s.signer.PublicKey(), blockhash, ix)
	if err != nil {
		return Signature{}, err
	}
	tx, err := SignTransaction(msg, s.signer)
	if err != nil {
		return Signature{}, err
	}

	sig, err := s.client.SendTransaction(ctx, tx.Serialize())
	if err != nil {
		return Signature{}, fmt.Errorf("sending transaction: %w", err)
	}
	return sig, nil
}

// Confirm waits for sig to be confirmed.
func (s *Sender) Confirm(ctx context.Context, sig Signature) error {
	return s.client.ConfirmTransaction(ctx, sig)
}
