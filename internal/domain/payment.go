package domain

import "time"

// PaymentMethod is how a payment was received.
type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	MethodCash         PaymentMethod = "CASH"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodOther        PaymentMethod = "OTHER"
)

// ValidPaymentMethod reports whether m is one of the known methods.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodBankTransfer, MethodMobileMoney, MethodCash, MethodCheque, MethodCreditCard, MethodOther:
		return true
	}
	return false
}

// Payment is the materialized view of one PAYMENT ledger entry.
// It is derived from the ledger for listing; it is never written directly.
type Payment struct {
	ReceiptID       string
	AssessmentID    string
	Sequence        int64 // sequence of the PAYMENT entry it came from
	Amount          int64 // minor units, positive
	Method          PaymentMethod
	ReceivedBy      string
	PaymentDate     time.Time
	ReferenceNumber string
}
