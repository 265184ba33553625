package ledger

// Column width for transaction type names. Reversal suffixes that would
// overflow it collapse to the generic reversal type.
const maxTypeLength = 64

const reversalSuffix = "_reversal"

// Related entity types the engine links transactions to.
const (
	EntityBooking    = "booking"
	EntityPackage    = "package"
	EntityDeposit    = "deposit_request"
	EntityWithdrawal = "withdrawal_request"
)
