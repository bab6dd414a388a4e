package session

// Identity is the bare OAuth identity supplied by the provider. It carries
// no backend-issued attributes; those arrive only through enrichment.
type Identity struct {
	ProviderID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// AccountRecord is the backend-issued account data merged into a session at
// sign-in. It is the source of truth for balance and privilege.
type AccountRecord struct {
	InternalUserID string
	CreditBalance  int64
	IsPrivileged   bool
}
