// Package ledger is the accounts bounded context. Every command writes the
// account and the integration event describing the change in one
// transaction, so a committed change is always eventually published.
package ledger

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidAccount  = errors.New("invalid account")
	ErrAccountClosed   = errors.New("account is closed")
)

type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusClosed AccountStatus = "closed"
)

type Account struct {
	ID        string        `json:"id" bson:"_id"`
	Name      string        `json:"name" bson:"name"`
	Type      AccountType   `json:"type" bson:"type"`
	Currency  string        `json:"currency" bson:"currency"`
	Status    AccountStatus `json:"status" bson:"status"`
	CreatedAt time.Time     `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time     `json:"updated_at" bson:"updatedAt"`
}

func (a Account) EntityID() string { return a.ID }

type OpenAccountRequest struct {
	Name     string      `json:"name"`
	Type     AccountType `json:"type"`
	Currency string      `json:"currency"`
}

func (r *OpenAccountRequest) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))

	switch {
	case r.Name == "":
		return errors.Join(ErrInvalidAccount, errors.New("name is required"))
	case !r.Type.Valid():
		return errors.Join(ErrInvalidAccount, errors.New("unknown account type "+string(r.Type)))
	case len(r.Currency) != 3:
		return errors.Join(ErrInvalidAccount, errors.New("currency must be a 3-letter code"))
	}
	return nil
}

func (a *Account) rename(name string, at time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.Join(ErrInvalidAccount, errors.New("name is required"))
	}
	if a.Status == StatusClosed {
		return ErrAccountClosed
	}
	a.Name = name
	a.UpdatedAt = at
	return nil
}

func (a *Account) close(at time.Time) error {
	if a.Status == StatusClosed {
		return ErrAccountClosed
	}
	a.Status = StatusClosed
	a.UpdatedAt = at
	return nil
}
