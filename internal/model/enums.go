package model

type Currency string

const (
	CurrencyUSD Currency = "usd"
	CurrencyEUR Currency = "eur"
	CurrencyGBP Currency = "gbp"
)

func (c Currency) Valid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

type TimeFrame string

const (
	TimeFrameDaily   TimeFrame = "daily"
	TimeFrameWeekly  TimeFrame = "weekly"
	TimeFrameMonthly TimeFrame = "monthly"
)

func (tf TimeFrame) Valid() bool {
	switch tf {
	case TimeFrameDaily, TimeFrameWeekly, TimeFrameMonthly:
		return true
	}
	return false
}

type Scope string

const (
	ScopeWorkspace Scope = "workspace"
	ScopeAgent     Scope = "agent"
)

type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusSettled  ReservationStatus = "settled"
	ReservationStatusReleased ReservationStatus = "released"
)

// NotificationErrorType selects which throttle window on a user's
// NotificationRateLimitRecord a send is gated by.
type NotificationErrorType string

const (
	NotificationErrorCredit        NotificationErrorType = "credit"
	NotificationErrorSpendingLimit NotificationErrorType = "spending_limit"
)
