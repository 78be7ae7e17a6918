package identity

// Provider names recognized by the resolution core.
const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
	ProviderKakao  = "kakao"
)

// Profile represents a normalized external authentication identity
// returned by a provider gateway. It contains facts only, no decisions,
// and is discarded after one resolution attempt.
type Profile struct {
	Provider       string // e.g. "google", "kakao"
	ProviderUserID string // provider-scoped unique user identifier (sub)
	Email          string // email returned by provider; may be empty
	EmailVerified  bool   // whether provider asserts email ownership
	DisplayName    string
	AvatarURL      string
}

// Extras returns the free-form metadata a profile contributes to an
// account. Empty values are omitted so a provider that returns no
// avatar never clobbers one recorded earlier.
func (p *Profile) Extras() map[string]string {
	extras := make(map[string]string)
	if p.DisplayName != "" {
		extras["display_name"] = p.DisplayName
	}
	if p.AvatarURL != "" {
		extras["avatar_url"] = p.AvatarURL
	}
	return extras
}
