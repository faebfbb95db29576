package domain

import (
	"regexp"
	"time"

	id "ballotgate/pkg/domain"
	"ballotgate/pkg/domainerrors"
)

var (
	nationalIDPattern = regexp.MustCompile(`^\d{10,12}$`)
	phonePattern      = regexp.MustCompile(`^\d{10}$`)
)

// IdentityRecord is the national-ID document backing a voter profile.
// One record per voter account. Immutable once verified.
type IdentityRecord struct {
	AccountID   id.AccountID
	NationalID  string
	FullName    string
	Address     string
	PhoneNumber string
	Email       string
	Verified    bool
	VerifiedBy  id.AccountID
	VerifiedAt  *time.Time
	CreatedAt   time.Time
}

// Validate checks document formats before any record is created.
func (r IdentityRecord) Validate() error {
	if !nationalIDPattern.MatchString(r.NationalID) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "national id must be 10-12 digits")
	}
	if r.FullName == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "full name is required")
	}
	if r.PhoneNumber != "" && !phonePattern.MatchString(r.PhoneNumber) {
		return domainerrors.New(domainerrors.CodeInvalidInput, "phone number must be 10 digits")
	}
	return nil
}
