package ledger

// Well-known program ids.
var (
	SystemProgramID          = MustPublicKey("11111111111111111111111111111111")
	TokenProgramID           = MustPublicKey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgramID = MustPublicKey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	MetadataProgramID        = MustPublicKey("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")
)

// metadataSeed is the fixed first seed of every token metadata account.
const metadataSeed = "metadata"

// AssociatedTokenAddress returns the canonical token account holding mint
// on behalf of owner.
func AssociatedTokenAddress(owner, mint PublicKey) (PublicKey, error) {
	addr, _, err := FindProgramAddress(
		[][]byte{owner[:], TokenProgramID[:], mint[:]},
		AssociatedTokenProgramID,
	)
	return addr, err
}

// MetadataAddress returns the token metadata account for mint.
func MetadataAddress(mint PublicKey) (PublicKey, error) {
	addr, _, err := FindProgramAddress(
		[][]byte{[]byte(metadataSeed), MetadataProgramID[:], mint[:]},
		MetadataProgramID,
	)
	return addr, err
}
