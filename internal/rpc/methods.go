package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"github.com/roach88/sprinkler/internal/ledger"
)

var _ ledger.Client = (*Client)(nil)

// accountData decodes the ["<base64>", "base64"] data tuple.
type accountData []byte

func (d *accountData) UnmarshalJSON(b []byte) error {
	var tuple []string
	if err := json.Unmarshal(b, &tuple); err != nil {
		return fmt.Errorf("account data is not an encoded tuple: %w", err)
	}
	if len(tuple) != 2 || tuple[1] != "base64" {
		return fmt.Errorf("unexpected account data encoding %v", tuple)
	}
	raw, err := base64.StdEncoding.DecodeString(tuple[0])
	if err != nil {
		return fmt.Errorf("decoding account data: %w", err)
	}
	*d = raw
	return nil
}

type accountInfo struct {
	Data       accountData `json:"data"`
	Owner      string      `json:"owner"`
	Lamports   uint64      `json:"lamports"`
	Executable bool        `json:"executable"`
}

type filterParam struct {
	DataSize *uint64      `json:"dataSize,omitempty"`
	Memcmp   *memcmpParam `json:"memcmp,omitempty"`
}

type memcmpParam struct {
	Offset uint64 `json:"offset"`
	Bytes  string `json:"bytes"`
}

// GetProgramAccounts implements ledger.Client.
func (c *Client) GetProgramAccounts(ctx context.Context, program ledger.PublicKey, filters ...ledger.Filter) ([]ledger.KeyedAccount, error) {
	encoded := make([]filterParam, 0, len(filters))
	for _, f := range filters {
		switch {
		case f.Memcmp != nil:
			encoded = append(encoded, filterParam{Memcmp: &memcmpParam{
				Offset: f.Memcmp.Offset,
				Bytes:  base58.Encode(f.Memcmp.Bytes),
			}})
		default:
			size := f.DataSize
			encoded = append(encoded, filterParam{DataSize: &size})
		}
	}

	var result []struct {
		Pubkey  string      `json:"pubkey"`
		Account accountInfo `json:"account"`
	}
	err := c.call(ctx, "getProgramAccounts", &result, program.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
		"filters":    encoded,
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]ledger.KeyedAccount, 0, len(result))
	for _, item := range result {
		address, err := ledger.PublicKeyFromBase58(item.Pubkey)
		if err != nil {
			return nil, &TransportError{Method: "getProgramAccounts", Err: err}
		}
		accounts = append(accounts, ledger.KeyedAccount{Address: address, Data: item.Account.Data})
	}
	return accounts, nil
}

// GetAccountData implements ledger.Client.
func (c *Client) GetAccountData(ctx context.Context, address ledger.PublicKey) ([]byte, error) {
	var result struct {
		Value *accountInfo `json:"value"`
	}
	err := c.call(ctx, "getAccountInfo", &result, address.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	})
	if err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("%s: %w", address, ledger.ErrAccountNotFound)
	}
	return result.Value.Data, nil
}

// GetTokenLargestAccounts implements ledger.Client.
func (c *Client) GetTokenLargestAccounts(ctx context.Context, mint ledger.PublicKey) ([]ledger.TokenHolder, error) {
	var result struct {
		Value []struct {
			Address  string `json:"address"`
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	err := c.call(ctx, "getTokenLargestAccounts", &result, mint.String(), map[string]any{
		"commitment": c.commitment,
	})
	if err != nil {
		return nil, err
	}

	holders := make([]ledger.TokenHolder, 0, len(result.Value))
	for _, v := range result.Value {
		address, err := ledger.PublicKeyFromBase58(v.Address)
		if err != nil {
			return nil, &TransportError{Method: "getTokenLargestAccounts", Err: err}
		}
		amount, err := strconv.ParseUint(v.Amount, 10, 64)
		if err != nil {
			return nil, &TransportError{Method: "getTokenLargestAccounts", Err: fmt.Errorf("amount %q: %w", v.Amount, err)}
		}
		holders = append(holders, ledger.TokenHolder{Address: address, Amount: amount, Decimals: v.Decimals})
	}
	return holders, nil
}

// GetTokenAccountOwner implements ledger.Client using the jsonParsed
// account encoding.
func (c *Client) GetTokenAccountOwner(ctx context.Context, tokenAccount ledger.PublicKey) (ledger.PublicKey, error) {
	var result struct {
		Value *struct {
			Data json.RawMessage `json:"data"`
		} `json:"value"`
	}
	err := c.call(ctx, "getAccountInfo", &result, tokenAccount.String(), map[string]any{
		"encoding":   "jsonParsed",
		"commitment": c.commitment,
	})
	if err != nil {
		return ledger.PublicKey{}, err
	}
	if result.Value == nil {
		return ledger.PublicKey{}, fmt.Errorf("%s: %w", tokenAccount, ledger.ErrAccountNotFound)
	}

	var parsed struct {
		Parsed struct {
			Info struct {
				Owner string `json:"owner"`
			} `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(result.Value.Data, &parsed); err != nil {
		return ledger.PublicKey{}, fmt.Errorf("rpc: account %s has no parsed representation: %w", tokenAccount, err)
	}
	if parsed.Parsed.Info.Owner == "" {
		return ledger.PublicKey{}, fmt.Errorf("rpc: account %s has no owner in parsed data", tokenAccount)
	}
	return ledger.PublicKeyFromBase58(parsed.Parsed.Info.Owner)
}

// GetLatestBlockhash implements ledger.Client.
func (c *Client) GetLatestBlockhash(ctx context.Context) (ledger.Hash, error) {
	var result struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.call(ctx, "getLatestBlockhash", &result, map[string]any{"commitment": c.commitment}); err != nil {
		return ledger.Hash{}, err
	}
	return ledger.HashFromBase58(result.Value.Blockhash)
}

// SendTransaction implements ledger.Client. Preflight simulation runs at
// the client's commitment, so program errors surface here as *RPCError.
func (c *Client) SendTransaction(ctx context.Context, wire []byte) (ledger.Signature, error) {
	var signature string
	err := c.call(ctx, "sendTransaction", &signature, base64.StdEncoding.EncodeToString(wire), map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	})
	if err != nil {
		return ledger.Signature{}, err
	}
	return ledger.SignatureFromBase58(signature)
}

type signatureStatus struct {
	Slot               uint64          `json:"slot"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// ConfirmTransaction implements ledger.Client by polling
// getSignatureStatuses until the signature reaches the configured
// commitment, fails, or ConfirmTimeout elapses.
func (c *Client) ConfirmTransaction(ctx context.Context, sig ledger.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.signatureStatus(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
			}
			return err
		}
		if status != nil {
			if len(status.Err) > 0 && string(status.Err) != "null" {
				return &TransactionError{Signature: sig.String(), Err: status.Err}
			}
			if reached(status.ConfirmationStatus, c.commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
		case <-ticker.C:
		}
	}
}

func (c *Client) signatureStatus(ctx context.Context, sig ledger.Signature) (*signatureStatus, error) {
	var result struct {
		Value []*signatureStatus `json:"value"`
	}
	err := c.call(ctx, "getSignatureStatuses", &result, []string{sig.String()}, map[string]any{
		"searchTransactionHistory": false,
	})
	if err != nil {
		return nil, err
	}
	if len(result.Value) == 0 {
		return nil, nil
	}
	return result.Value[0], nil
}

var commitmentRank = map[string]int{
	"processed": 1,
	"confirmed": 2,
	"finalized": 3,
}

// reached reports whether status is at least as strong as want.
func reached(status, want string) bool {
	got, ok := commitmentRank[status]
	if !ok {
		return false
	}
	return got >= commitmentRank[want]
}
