package ledger

// Error is a ledger rejection reason
type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrUnknownAsset        Error = "unknown asset"
	ErrAssetExists         Error = "asset already registered"
	ErrAssetInUse          Error = "asset has outstanding supply"
	ErrUnauthorized        Error = "authority not permitted for command"
	ErrInsufficientBalance Error = "insufficient balance"
	ErrSupplyOverflow      Error = "supply overflow"
	ErrZeroAmount          Error = "amount must be greater than 0"
	ErrUnknownCommand      Error = "unknown command kind"
)
