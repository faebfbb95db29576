package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
)

// Account is a registered participant. Accounts are never deleted, only
// deactivated, so historical vote records always resolve to an owner.
type Account struct {
	ID            id.AccountID
	Username      string
	Email         string
	Role          id.Role
	WalletAddress string
	Verified      bool
	Active        bool
	LastLogin     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasWallet reports whether a wallet address is bound. Ledger operations
// require one.
func (a Account) HasWallet() bool { return a.WalletAddress != "" }

// ValidateWalletAddress rejects anything that is not a hex-encoded ledger
// address. Stored addresses are normalized to their checksummed form.
func ValidateWalletAddress(addr string) (string, error) {
	if addr == "" {
		return "", domainerrors.New(domainerrors.CodeMissingWallet, "wallet address is required")
	}
	if !common.IsHexAddress(addr) {
		return "", domainerrors.New(domainerrors.CodeInvalidInput, "wallet address is not a valid hex address")
	}
	return common.HexToAddress(addr).Hex(), nil
}
