package domain

// ProviderAccount is a row of provider.
type ProviderAccount struct {
	ID       int64
	PersonID *int64
	Name     string
	UUID     string
	Retired  bool
}

// UnknownProviderName is the display name given to the fallback provider
// created for orders without an orderer. It is never used for lookups.
const UnknownProviderName = "Unknown Provider"
