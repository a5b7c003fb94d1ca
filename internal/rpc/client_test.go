package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/schema"
)

var (
	testProgram = ledger.MustPublicKey("tuberzVVow3N7VTNHmwmoaJ88BM8bNVJNnhTiSYYpRC")
	testAddr    = ledger.MustPublicKey("7TEJqD7gXi7FBZ9uCc8R5kmbrkmi5aUvmDNmHqJxUkys")
	testMint    = ledger.MustPublicKey("FRc1vu7f6boyh4RFvAdNowtojVmr6h5ELFbdXhWc6PoX")
)

// reply is what a fake node returns for one call.
type reply struct {
	status int
	result any
	err    *RPCError
}

type fakeNode struct {
	t        *testing.T
	mu       sync.Mutex
	calls    map[string]int
	params   map[string][]json.RawMessage
	handlers map[string]func(call int, params []json.RawMessage) reply
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	node := &fakeNode{
		t:        t,
		calls:    map[string]int{},
		params:   map[string][]json.RawMessage{},
		handlers: map[string]func(int, []json.RawMessage) reply{},
	}
	server := httptest.NewServer(node)
	t.Cleanup(server.Close)
	return node, server
}

func (n *fakeNode) on(method string, h func(call int, params []json.RawMessage) reply) {
	n.handlers[method] = h
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64            `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	require.NoError(n.t, json.NewDecoder(r.Body).Decode(&req))

	n.mu.Lock()
	n.calls[req.Method]++
	call := n.calls[req.Method]
	n.params[req.Method] = req.Params
	handler := n.handlers[req.Method]
	n.mu.Unlock()

	if handler == nil {
		http.Error(w, "no handler for "+req.Method, http.StatusNotImplemented)
		return
	}
	rep := handler(call, req.Params)
	if rep.status != 0 && rep.status != http.StatusOK {
		http.Error(w, "unavailable", rep.status)
		return
	}

	body := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rep.err != nil {
		body["error"] = rep.err
	} else {
		body["result"] = rep.result
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(n.t, json.NewEncoder(w).Encode(body))
}

func newTestClient(t *testing.T, server *httptest.Server, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		URL:            server.URL,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		ConfirmTimeout: time.Second,
		PollInterval:   time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func encodedData(b []byte) []string {
	return []string{base64.StdEncoding.EncodeToString(b), "base64"}
}

func TestNewValidatesURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{URL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := New(Config{URL: "http://localhost:8899"})
	require.NoError(t, err)
	assert.Equal(t, DefaultCommitment, c.commitment)
	assert.Equal(t, uint64(DefaultMaxRetries), c.maxRetries)
}

func TestGetProgramAccounts(t *testing.T) {
	node, server := newFakeNode(t)
	plantData := schema.EncodePlant(&schema.Plant{Mint: testMint})
	node.on("getProgramAccounts", func(int, []json.RawMessage) reply {
		return reply{result: []map[string]any{
			{"pubkey": testAddr.String(), "account": map[string]any{"data": encodedData(plantData), "owner": testProgram.String()}},
		}}
	})

	c := newTestClient(t, server)
	accounts, err := c.GetProgramAccounts(context.Background(), testProgram,
		ledger.DataSizeFilter(schema.PlantSize),
		ledger.MemcmpFilter(0, schema.PlantDiscriminator[:]),
	)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, testAddr, accounts[0].Address)
	assert.Equal(t, plantData, accounts[0].Data)

	params := node.params["getProgramAccounts"]
	require.Len(t, params, 2)
	assert.JSONEq(t, `"`+testProgram.String()+`"`, string(params[0]))

	var opts struct {
		Encoding string `json:"encoding"`
		Filters  []struct {
			DataSize *uint64 `json:"dataSize"`
			Memcmp   *struct {
				Offset uint64 `json:"offset"`
				Bytes  string `json:"bytes"`
			} `json:"memcmp"`
		} `json:"filters"`
	}
	require.NoError(t, json.Unmarshal(params[1], &opts))
	assert.Equal(t, "base64", opts.Encoding)
	require.Len(t, opts.Filters, 2)
	require.NotNil(t, opts.Filters[0].DataSize)
	assert.Equal(t, uint64(66), *opts.Filters[0].DataSize)
	require.NotNil(t, opts.Filters[1].Memcmp)
	assert.Equal(t, base58.Encode(schema.PlantDiscriminator[:]), opts.Filters[1].Memcmp.Bytes)
}

func TestGetAccountData(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("getAccountInfo", func(call int, _ []json.RawMessage) reply {
		if call == 1 {
			return reply{result: map[string]any{"value": map[string]any{"data": encodedData([]byte{1, 2, 3})}}}
		}
		return reply{result: map[string]any{"value": nil}}
	})

	c := newTestClient(t, server)
	data, err := c.GetAccountData(context.Background(), testAddr)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = c.GetAccountData(context.Background(), testAddr)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestGetTokenLargestAccounts(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("getTokenLargestAccounts", func(int, []json.RawMessage) reply {
		return reply{result: map[string]any{"value": []map[string]any{
			{"address": testAddr.String(), "amount": "1", "decimals": 0, "uiAmount": 1.0, "uiAmountString": "1"},
			{"address": testMint.String(), "amount": "0", "decimals": 0, "uiAmount": 0.0, "uiAmountString": "0"},
		}}}
	})

	c := newTestClient(t, server)
	holders, err := c.GetTokenLargestAccounts(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, []ledger.TokenHolder{
		{Address: testAddr, Amount: 1},
		{Address: testMint, Amount: 0},
	}, holders)
}

func TestGetTokenAccountOwner(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("getAccountInfo", func(call int, _ []json.RawMessage) reply {
		switch call {
		case 1:
			return reply{result: map[string]any{"value": map[string]any{
				"data": map[string]any{
					"program": "spl-token",
					"parsed": map[string]any{
						"type": "account",
						"info": map[string]any{"owner": testAddr.String(), "mint": testMint.String()},
					},
				},
			}}}
		case 2:
			return reply{result: map[string]any{"value": map[string]any{"data": encodedData([]byte{0})}}}
		default:
			return reply{result: map[string]any{"value": nil}}
		}
	})

	c := newTestClient(t, server)
	owner, err := c.GetTokenAccountOwner(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, testAddr, owner)

	_, err = c.GetTokenAccountOwner(context.Background(), testMint)
	assert.ErrorContains(t, err, "no parsed representation")

	_, err = c.GetTokenAccountOwner(context.Background(), testMint)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	var opts map[string]any
	require.NoError(t, json.Unmarshal(node.params["getAccountInfo"][1], &opts))
	assert.Equal(t, "jsonParsed", opts["encoding"])
}

func TestRetriesTransientFailures(t *testing.T) {
	node, server := newFakeNode(t)
	blockhash := ledger.Hash{4, 2}
	node.on("getLatestBlockhash", func(call int, _ []json.RawMessage) reply {
		if call <= 2 {
			return reply{status: http.StatusServiceUnavailable}
		}
		return reply{result: map[string]any{"value": map[string]any{"blockhash": blockhash.String(), "lastValidBlockHeight": 10}}}
	})

	c := newTestClient(t, server)
	got, err := c.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, blockhash, got)
	assert.Equal(t, 3, node.count("getLatestBlockhash"))
}

func TestRetriesExhausted(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("getLatestBlockhash", func(int, []json.RawMessage) reply {
		return reply{status: http.StatusTooManyRequests}
	})

	c := newTestClient(t, server, func(cfg *Config) { cfg.MaxRetries = 2 })
	_, err := c.GetLatestBlockhash(context.Background())

	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusTooManyRequests, transportErr.StatusCode)
	assert.Equal(t, 3, node.count("getLatestBlockhash"))
	assert.True(t, IsTransportError(err))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("getLatestBlockhash", func(int, []json.RawMessage) reply {
		return reply{status: http.StatusBadRequest}
	})

	c := newTestClient(t, server)
	_, err := c.GetLatestBlockhash(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, node.count("getLatestBlockhash"))
}

func TestRPCErrorsAreNotRetried(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("sendTransaction", func(int, []json.RawMessage) reply {
		return reply{err: &RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed: Error processing Instruction 0: custom program error: 0x1776",
			Data:    json.RawMessage(`{"err":{"InstructionError":[0,{"Custom":6006}]},"logs":[]}`),
		}}
	})

	c := newTestClient(t, server)
	_, err := c.SendTransaction(context.Background(), []byte{1, 2, 3})

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32002, rpcErr.Code)
	assert.Equal(t, "sendTransaction", rpcErr.Method)
	pe, ok := rpcErr.ProgramError()
	require.True(t, ok)
	assert.Equal(t, schema.ErrPlantDead, pe)
	assert.Contains(t, err.Error(), "PlantDead")
	assert.Equal(t, 1, node.count("sendTransaction"))
	assert.False(t, IsTransportError(err))
}

func TestSendTransaction(t *testing.T) {
	node, server := newFakeNode(t)
	sig := ledger.Signature{1, 2, 3}
	node.on("sendTransaction", func(int, []json.RawMessage) reply {
		return reply{result: sig.String()}
	})

	c := newTestClient(t, server)
	got, err := c.SendTransaction(context.Background(), []byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, sig, got)

	params := node.params["sendTransaction"]
	require.Len(t, params, 2)
	assert.JSONEq(t, `"`+base64.StdEncoding.EncodeToString([]byte{9, 9})+`"`, string(params[0]))
}

func TestConfirmTransaction(t *testing.T) {
	sig := ledger.Signature{7}

	t.Run("confirmed after polling", func(t *testing.T) {
		node, server := newFakeNode(t)
		node.on("getSignatureStatuses", func(call int, _ []json.RawMessage) reply {
			switch call {
			case 1:
				return reply{result: map[string]any{"value": []any{nil}}}
			case 2:
				return reply{result: map[string]any{"value": []any{map[string]any{"slot": 1, "err": nil, "confirmationStatus": "processed"}}}}
			default:
				return reply{result: map[string]any{"value": []any{map[string]any{"slot": 1, "err": nil, "confirmationStatus": "confirmed"}}}}
			}
		})

		c := newTestClient(t, server)
		require.NoError(t, c.ConfirmTransaction(context.Background(), sig))
		assert.Equal(t, 3, node.count("getSignatureStatuses"))
	})

	t.Run("landed with error", func(t *testing.T) {
		node, server := newFakeNode(t)
		node.on("getSignatureStatuses", func(int, []json.RawMessage) reply {
			return reply{result: map[string]any{"value": []any{map[string]any{
				"slot":               1,
				"err":                map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 6007}}},
				"confirmationStatus": "confirmed",
			}}}}
		})

		c := newTestClient(t, server)
		err := c.ConfirmTransaction(context.Background(), sig)
		var txErr *TransactionError
		require.ErrorAs(t, err, &txErr)
		pe, ok := txErr.ProgramError()
		require.True(t, ok)
		assert.Equal(t, schema.ErrPlantWaterTooOften, pe)
	})

	t.Run("timeout", func(t *testing.T) {
		node, server := newFakeNode(t)
		node.on("getSignatureStatuses", func(int, []json.RawMessage) reply {
			return reply{result: map[string]any{"value": []any{nil}}}
		})

		c := newTestClient(t, server, func(cfg *Config) { cfg.ConfirmTimeout = 20 * time.Millisecond })
		err := c.ConfirmTransaction(context.Background(), sig)
		assert.ErrorIs(t, err, ErrConfirmTimeout)
	})
}

func TestReached(t *testing.T) {
	assert.True(t, reached("confirmed", "confirmed"))
	assert.True(t, reached("finalized", "confirmed"))
	assert.False(t, reached("processed", "confirmed"))
	assert.False(t, reached("", "processed"))
}

func TestRateLimiterPacesRequests(t *testing.T) {
	node, server := newFakeNode(t)
	node.on("getLatestBlockhash", func(int, []json.RawMessage) reply {
		return reply{result: map[string]any{"value": map[string]any{"blockhash": ledger.Hash{1}.String()}}}
	})

	c := newTestClient(t, server, func(cfg *Config) { cfg.RateLimit = 50 })
	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := c.GetLatestBlockhash(context.Background())
		require.NoError(t, err)
	}
	// Burst of 1 at 50/s: three waits of ~20ms each.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
