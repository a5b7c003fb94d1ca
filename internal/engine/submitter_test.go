package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/ledger"
	"github.com/roach88/sprinkler/internal/rpc"
	"github.com/roach88/sprinkler/internal/schema"
	"github.com/roach88/sprinkler/internal/testutil"
)

var (
	testProgram     = ledger.MustPublicKey("tuberzVVow3N7VTNHmwmoaJ88BM8bNVJNnhTiSYYpRC")
	testAuthorities = Authorities{
		Freeze:   ledger.MustPublicKey("FRc1vu7f6boyh4RFvAdNowtojVmr6h5ELFbdXhWc6PoX"),
		Metadata: ledger.MustPublicKey("7TEJqD7gXi7FBZ9uCc8R5kmbrkmi5aUvmDNmHqJxUkys"),
	}
)

func testGardener() *schema.Gardener {
	return &schema.Gardener{
		Address:     testutil.Key(500),
		Authority:   testutil.Key(501),
		Bump:        253,
		Initialized: true,
	}
}

func testWaterContext() WaterContext {
	return WaterContext{Gardener: testGardener(), OwnedMint: testutil.Key(502)}
}

func newTestSubmitter(t *testing.T, submitter Submitter, chunkSize int, logs *bytes.Buffer) *BatchSubmitter {
	t.Helper()
	var logger *slog.Logger
	if logs != nil {
		logger = slog.New(slog.NewTextHandler(logs, nil))
	}
	b, err := NewBatchSubmitter(BatchSubmitterConfig{
		Submitter:   submitter,
		Program:     testProgram,
		Authorities: testAuthorities,
		ChunkSize:   chunkSize,
		Logger:      logger,
	})
	require.NoError(t, err)
	return b
}

func TestNewBatchSubmitter_Validation(t *testing.T) {
	_, err := NewBatchSubmitter(BatchSubmitterConfig{Authorities: testAuthorities})
	assert.Error(t, err)

	_, err = NewBatchSubmitter(BatchSubmitterConfig{Program: testProgram})
	assert.Error(t, err)
}

func TestBuildWater_Accounts(t *testing.T) {
	b := newTestSubmitter(t, testutil.NewFakeSubmitter(), 0, nil)
	wc := testWaterContext()
	p := plantAt(1, 100, 0)
	p.Name, _ = schema.NameFromString("tuber-7")

	ix, err := b.BuildWater(p, wc)
	require.NoError(t, err)

	ownedToken, err := ledger.AssociatedTokenAddress(wc.Gardener.Authority, wc.OwnedMint)
	require.NoError(t, err)
	ownedMetadata, err := ledger.MetadataAddress(wc.OwnedMint)
	require.NoError(t, err)
	plantToken, err := ledger.AssociatedTokenAddress(p.Owner, p.Mint)
	require.NoError(t, err)
	plantMetadata, err := ledger.MetadataAddress(p.Mint)
	require.NoError(t, err)

	want := []ledger.PublicKey{
		p.Address,
		wc.Gardener.Address,
		wc.OwnedMint,
		ownedToken,
		ownedMetadata,
		p.Mint,
		plantToken,
		plantMetadata,
		testAuthorities.Freeze,
		testAuthorities.Metadata,
		wc.Gardener.Authority,
		ledger.TokenProgramID,
		ledger.SystemProgramID,
		ledger.MetadataProgramID,
	}
	require.Len(t, ix.Accounts, len(want))
	for i, meta := range ix.Accounts {
		assert.Equal(t, want[i], meta.PublicKey, "account %d", i)
	}
	assert.True(t, ix.Accounts[10].IsSigner)
	assert.Equal(t, testProgram, ix.ProgramID)

	require.Len(t, ix.Data, schema.DiscriminatorLength+schema.NameLength+1)
	assert.Equal(t, schema.WaterDiscriminator[:], ix.Data[:schema.DiscriminatorLength])
	assert.Equal(t, p.Name[:], ix.Data[schema.DiscriminatorLength:schema.DiscriminatorLength+schema.NameLength])
	assert.Equal(t, uint8(253), ix.Data[len(ix.Data)-1])
}

func TestBuildWater_RequiresGardener(t *testing.T) {
	b := newTestSubmitter(t, testutil.NewFakeSubmitter(), 0, nil)

	_, err := b.BuildWater(plantAt(1, 100, 0), WaterContext{OwnedMint: testutil.Key(502)})
	assert.Error(t, err)
}

func TestWaterAll_PartialFailure(t *testing.T) {
	fake := testutil.NewFakeSubmitter()
	fake.FailSubmit(testutil.Key(2), nil)
	fake.FailConfirm(testutil.Key(4), nil)
	var logs bytes.Buffer
	b := newTestSubmitter(t, fake, 0, &logs)

	plants := []discovery.Plant{
		plantAt(1, 100, 0), plantAt(2, 100, 0), plantAt(3, 100, 0), plantAt(4, 100, 0), plantAt(5, 100, 0),
	}
	report := b.WaterAll(context.Background(), plants, testWaterContext())

	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Zero(t, report.Skipped)
	require.Len(t, report.Outcomes, 5)
	for i, outcome := range report.Outcomes {
		assert.Equal(t, plants[i].Address, outcome.Plant.Address, "outcomes keep input order")
	}
	assert.Error(t, report.Outcomes[1].Err)
	assert.True(t, IsSubmissionError(report.Outcomes[1].Err))
	assert.ErrorIs(t, report.Outcomes[3].Err, testutil.ErrInjected)
	assert.NoError(t, report.Outcomes[4].Err)
	assert.Len(t, fake.Submitted(), 5)
	assert.Equal(t, 4, fake.Confirmations())

	out := logs.String()
	assert.Equal(t, 5, strings.Count(out, `msg="watering plant"`))
	assert.Equal(t, 3, strings.Count(out, `msg="successfully watered plant"`))
	assert.Equal(t, 2, strings.Count(out, `msg="failed watering plant"`))
	assert.Contains(t, out, "plant="+testutil.Key(2).String())
}

func TestWaterAll_ProgramErrorLogged(t *testing.T) {
	fake := testutil.NewFakeSubmitter()
	fake.FailSubmit(testutil.Key(1), &rpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data:    json.RawMessage(`{"err":{"InstructionError":[0,{"Custom":6007}]}}`),
		Method:  "sendTransaction",
	})
	var logs bytes.Buffer
	b := newTestSubmitter(t, fake, 0, &logs)

	report := b.WaterAll(context.Background(), []discovery.Plant{plantAt(1, 100, 0)}, testWaterContext())

	require.Equal(t, 1, report.Failed)
	name, ok := ProgramErrorName(report.Outcomes[0].Err)
	require.True(t, ok)
	assert.Equal(t, "PlantWaterTooOften", name)
	assert.Contains(t, logs.String(), "program_error=PlantWaterTooOften")
}

func TestWaterAll_BoundedConcurrency(t *testing.T) {
	fake := testutil.NewFakeSubmitter()
	b := newTestSubmitter(t, fake, 3, nil)

	plants := make([]discovery.Plant, 10)
	for i := range plants {
		plants[i] = plantAt(i, 100, 0)
	}
	report := b.WaterAll(context.Background(), plants, testWaterContext())

	assert.Equal(t, 10, report.Succeeded)
	assert.LessOrEqual(t, fake.MaxInFlight(), 3)
}

func TestWaterAll_ReadOnly(t *testing.T) {
	var logs bytes.Buffer
	b := newTestSubmitter(t, nil, 0, &logs)
	require.True(t, b.ReadOnly())

	report := b.WaterAll(context.Background(), []discovery.Plant{plantAt(1, 100, 0), plantAt(2, 100, 0)}, testWaterContext())

	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Succeeded)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 2, strings.Count(logs.String(), "would water plant"))
}

func TestWaterAll_Empty(t *testing.T) {
	fake := testutil.NewFakeSubmitter()
	b := newTestSubmitter(t, fake, 0, nil)

	report := b.WaterAll(context.Background(), nil, testWaterContext())

	assert.Empty(t, report.Outcomes)
	assert.Empty(t, fake.Submitted())
}

func TestWaterAll_Canceled(t *testing.T) {
	fake := testutil.NewFakeSubmitter()
	b := newTestSubmitter(t, fake, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := b.WaterAll(ctx, []discovery.Plant{plantAt(1, 100, 0), plantAt(2, 100, 0)}, testWaterContext())

	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, fake.Submitted())
}

func TestWaterAll_ThroughSender(t *testing.T) {
	signer, err := ledger.NewSignerFromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	f := testutil.NewFakeLedger()
	f.Fail(testutil.Key(2), nil)
	b := newTestSubmitter(t, ledger.NewSender(f, signer), 0, nil)

	wc := testWaterContext()
	wc.Gardener.Authority = signer.PublicKey()
	report := b.WaterAll(context.Background(), []discovery.Plant{plantAt(1, 100, 0), plantAt(2, 100, 0)}, wc)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, f.Sent(), 1)
	assert.Equal(t, 1, f.Calls("confirmTransaction"))
}
