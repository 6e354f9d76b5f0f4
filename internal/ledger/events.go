package ledger

import (
	"time"

	"github.com/sapliy/txrelay/internal/integration"
)

// Topic is where account events are published.
const Topic = "ledger-events"

const (
	EventAccountOpened  = "ledger.account.opened"
	EventAccountRenamed = "ledger.account.renamed"
	EventAccountClosed  = "ledger.account.closed"
)

type AccountOpened struct {
	AccountID string      `json:"account_id"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Currency  string      `json:"currency"`
	OpenedAt  time.Time   `json:"opened_at"`
}

func (AccountOpened) EventName() string { return EventAccountOpened }

type AccountRenamed struct {
	AccountID string    `json:"account_id"`
	OldName   string    `json:"old_name"`
	NewName   string    `json:"new_name"`
	RenamedAt time.Time `json:"renamed_at"`
}

func (AccountRenamed) EventName() string { return EventAccountRenamed }

type AccountClosed struct {
	AccountID string    `json:"account_id"`
	ClosedAt  time.Time `json:"closed_at"`
}

func (AccountClosed) EventName() string { return EventAccountClosed }

// RegisterEvents adds decoders for every account event to r.
func RegisterEvents(r *integration.Registry) error {
	if err := integration.RegisterType[AccountOpened](r); err != nil {
		return err
	}
	if err := integration.RegisterType[AccountRenamed](r); err != nil {
		return err
	}
	return integration.RegisterType[AccountClosed](r)
}
