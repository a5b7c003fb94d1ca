package schema

import (
	"encoding/binary"

	"github.com/roach88/sprinkler/internal/ledger"
)

// WaterAccounts are the accounts of the water instruction.
type WaterAccounts struct {
	Plant             ledger.PublicKey
	Gardener          ledger.PublicKey
	OwnedPlantMint    ledger.PublicKey
	OwnedPlantToken   ledger.PublicKey
	OwnedMetadata     ledger.PublicKey
	PlantMint         ledger.PublicKey
	PlantToken        ledger.PublicKey
	PlantMetadata     ledger.PublicKey
	FreezeAuthority   ledger.PublicKey
	MetadataAuthority ledger.PublicKey
	Authority         ledger.PublicKey
}

// WaterInstruction builds water(plant_name, gardener_bump) for program.
// Account order matches the program's declaration.
func WaterInstruction(program ledger.PublicKey, name Name, gardenerBump uint8, a WaterAccounts) ledger.Instruction {
	data := make([]byte, 0, DiscriminatorLength+NameLength+1)
	data = append(data, WaterDiscriminator[:]...)
	data = append(data, name[:]...)
	data = append(data, gardenerBump)

	return ledger.Instruction{
		ProgramID: program,
		Accounts: []ledger.AccountMeta{
			ledger.Writable(a.Plant),
			ledger.Writable(a.Gardener),
			ledger.Readonly(a.OwnedPlantMint),
			ledger.Readonly(a.OwnedPlantToken),
			ledger.Readonly(a.OwnedMetadata),
			ledger.Readonly(a.PlantMint),
			ledger.Writable(a.PlantToken),
			ledger.Writable(a.PlantMetadata),
			ledger.Readonly(a.FreezeAuthority),
			ledger.Readonly(a.MetadataAuthority),
			ledger.WritableSigner(a.Authority),
			ledger.Readonly(ledger.TokenProgramID),
			ledger.Readonly(ledger.SystemProgramID),
			ledger.Readonly(ledger.MetadataProgramID),
		},
		Data: data,
	}
}

// EncodePlant is the inverse of DecodePlant.
func EncodePlant(p *Plant) []byte {
	buf := make([]byte, 0, PlantSize)
	buf = append(buf, PlantDiscriminator[:]...)
	buf = append(buf, p.Name[:]...)
	buf = append(buf, p.Mint[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, p.Watered)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.WaterTimeout))
	buf = append(buf, p.Level, p.Bump)
	return buf
}

// EncodeGardener is the inverse of DecodeGardener.
func EncodeGardener(g *Gardener) []byte {
	buf := make([]byte, 0, GardenerSize)
	buf = append(buf, GardenerDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, g.WateredOthers)
	buf = binary.LittleEndian.AppendUint32(buf, g.Watered)
	buf = binary.LittleEndian.AppendUint32(buf, g.WateredInTimeframe)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(g.WaterTimeout))
	buf = append(buf, g.Authority[:]...)
	initialized := byte(0)
	if g.Initialized {
		initialized = 1
	}
	buf = append(buf, g.Bump, initialized)
	return buf
}
