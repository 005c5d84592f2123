// Package ledger defines the on-chain character registry: ownership and
// coarse progression (level and experience). Mutations are gated to an
// authorized caller by the backend.
package ledger

import (
	"context"
	"errors"
	"strconv"

	"github.com/jwebster45206/dungeon-ledger/pkg/metadata"
)

var (
	// ErrUnauthorized means the backend rejected a mutation because the
	// caller is not the recognized authority.
	ErrUnauthorized = errors.New("ledger: caller not authorized")
	// ErrTokenNotFound means the token was never minted.
	ErrTokenNotFound = errors.New("ledger: token not found")
	// ErrBurned means the token exists but has been burned.
	ErrBurned = errors.New("ledger: token burned")
)

// TokenID identifies one minted character.
type TokenID uint64

func (id TokenID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTokenID parses a decimal token id.
func ParseTokenID(s string) (TokenID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TokenID(n), nil
}

// Progress is the ledger's canonical level and experience for a token.
type Progress struct {
	Level      int `json:"level"`
	Experience int `json:"experience"`
}

// Ledger is the collaborator that owns tokens and level-up arithmetic.
type Ledger interface {
	// CreateCharacter mints a token for owner pointing at ref.
	CreateCharacter(ctx context.Context, owner string, ref metadata.Ref) (TokenID, error)
	// ApplyExperience adds amount and returns the recomputed progress.
	ApplyExperience(ctx context.Context, id TokenID, amount int) (Progress, error)
	// SetMetadataRef points the token's URI at ref.
	SetMetadataRef(ctx context.Context, id TokenID, ref metadata.Ref) error
	// Burn destroys the token. It is terminal.
	Burn(ctx context.Context, id TokenID) error

	OwnerOf(ctx context.Context, id TokenID) (string, error)
	TotalSupply(ctx context.Context) (uint64, error)
	TokensOfOwner(ctx context.Context, owner string) ([]TokenID, error)
	Progress(ctx context.Context, id TokenID) (Progress, error)
	MetadataRef(ctx context.Context, id TokenID) (metadata.Ref, error)
}

// LevelThreshold is the experience needed to advance from level.
func LevelThreshold(level int) int {
	return 20 * level
}

// Advance applies amount experience to p using the threshold rule: while
// experience reaches the threshold of the current level, it is spent and the
// level increases. Backends without their own arithmetic use this.
func Advance(p Progress, amount int) Progress {
	if p.Level < 1 {
		p.Level = 1
	}
	p.Experience += amount
	if p.Experience < 0 {
		p.Experience = 0
	}
	for p.Experience >= LevelThreshold(p.Level) {
		p.Experience -= LevelThreshold(p.Level)
		p.Level++
	}
	return p
}
