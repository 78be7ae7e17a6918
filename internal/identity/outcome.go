package identity

// OutcomeKind enumerates the possible results of one resolution.
type OutcomeKind string

const (
	// OutcomeCreated means a new canonical account was created.
	OutcomeCreated OutcomeKind = "created"
	// OutcomeLinkedToExisting means the profile was attached to an
	// account found by email or provider-id match.
	OutcomeLinkedToExisting OutcomeKind = "linked_to_existing"
	// OutcomeSessionLinkedToActive means the profile was attached to the
	// account the user was already signed in as.
	OutcomeSessionLinkedToActive OutcomeKind = "session_linked_to_active"
	// OutcomeConflict means the provider identity is already bound to a
	// different account and nothing was changed.
	OutcomeConflict OutcomeKind = "conflict"
	// OutcomeRejected means the profile could not be resolved at all.
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the result of resolving one provider profile.
type Outcome struct {
	Kind OutcomeKind

	// AccountID is the resolved canonical account for Created,
	// LinkedToExisting and SessionLinkedToActive.
	AccountID string

	// ExistingAccountID identifies the account that already owns the
	// provider identity when Kind is Conflict.
	ExistingAccountID string

	// Reason explains a Rejected outcome.
	Reason string
}
