package orders

import "strconv"

// PaymentStatus mirrors the gateway's payment vocabulary. Values outside the
// known set parse to StatusUnknown and are never persisted.
type PaymentStatus int

const (
	StatusUnknown  PaymentStatus = 0
	StatusPending  PaymentStatus = 1
	StatusPaid     PaymentStatus = 2
	StatusRejected PaymentStatus = 3
	StatusVoided   PaymentStatus = 4
)

func ParsePaymentStatus(v int) PaymentStatus {
	switch s := PaymentStatus(v); s {
	case StatusPending, StatusPaid, StatusRejected, StatusVoided:
		return s
	}
	return StatusUnknown
}

func (s PaymentStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPaid:
		return "paid"
	case StatusRejected:
		return "rejected"
	case StatusVoided:
		return "voided"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// IsFinal reports whether no further transition is allowed.
func (s PaymentStatus) IsFinal() bool {
	return s == StatusPaid || s == StatusRejected || s == StatusVoided
}

var validNext = map[PaymentStatus]map[PaymentStatus]bool{
	StatusPending:  {StatusPaid: true, StatusRejected: true, StatusVoided: true},
	StatusPaid:     {},
	StatusRejected: {},
	StatusVoided:   {},
}

func CanTransition(from, to PaymentStatus) bool {
	return validNext[from][to]
}
