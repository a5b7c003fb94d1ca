package schema

import "fmt"

// ProgramError is a custom error code returned by the program.
type ProgramError uint32

// Custom error codes start at 6000.
const (
	ErrTestError ProgramError = 6000 + iota
	ErrNotSeedSocietyPlant
	ErrIncorrectName
	ErrSignerNotOwner
	ErrIncorrectMintForTokenAccount
	ErrIncorrectTokenAccountBalance
	ErrPlantDead
	ErrPlantWaterTooOften
	ErrGardenerWaterTooOften
	ErrWrongGardener
)

var programErrors = map[ProgramError]struct{ name, msg string }{
	ErrTestError:                    {"TestError", "Test Error"},
	ErrNotSeedSocietyPlant:          {"NotSeedSocietyPlant", "Must only provide Seed Society mints"},
	ErrIncorrectName:                {"IncorrectName", "Plant name must match metadata"},
	ErrSignerNotOwner:               {"SignerNotOwner", "Must only provide token accounts owned by signer"},
	ErrIncorrectMintForTokenAccount: {"IncorrectMintForTokenAccount", "Provided token account does not match mint"},
	ErrIncorrectTokenAccountBalance: {"IncorrectTokenAccountBalance", "Provided token account does not own a plant"},
	ErrPlantDead:                    {"PlantDead", "This plant is dead"},
	ErrPlantWaterTooOften:           {"PlantWaterTooOften", "Plant watered too often"},
	ErrGardenerWaterTooOften:        {"GardenerWaterTooOften", "Gardener watering too often"},
	ErrWrongGardener:                {"WrongGardener", "Wrong gardener"},
}

// LookupProgramError returns the program error for code, if known.
func LookupProgramError(code uint32) (ProgramError, bool) {
	pe := ProgramError(code)
	_, ok := programErrors[pe]
	return pe, ok
}

// Name returns the error's identifier, e.g. "PlantDead".
func (e ProgramError) Name() string {
	if info, ok := programErrors[e]; ok {
		return info.name
	}
	return fmt.Sprintf("Custom(%d)", uint32(e))
}

func (e ProgramError) Error() string {
	if info, ok := programErrors[e]; ok {
		return fmt.Sprintf("%s (%d): %s", info.name, uint32(e), info.msg)
	}
	return fmt.Sprintf("custom program error %d", uint32(e))
}
