package session

import "time"

// State classifies a snapshot by what kind of principal it carries.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
	StateImpersonating State = "impersonating"
)

// Identity is the authenticated user's profile as returned by the server.
type Identity struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	DisplayName    string `json:"displayName"`
	Role           string `json:"role,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// ImpersonationContext describes who a support user is currently acting as.
type ImpersonationContext struct {
	OrganizationName string `json:"organizationName,omitempty"`
	TargetUserEmail  string `json:"targetUserEmail,omitempty"`
}

// Snapshot is the full session record persisted between restarts.
//
// SavedCredential/SavedIdentity hold the pre-impersonation pair. They are
// both set exactly when Impersonating is true; the stack is at most one
// level deep, so only the original principal is ever recoverable.
type Snapshot struct {
	Credential      string                `json:"credential,omitempty"`
	Identity        *Identity             `json:"identity,omitempty"`
	SavedCredential string                `json:"savedCredential,omitempty"`
	SavedIdentity   *Identity             `json:"savedIdentity,omitempty"`
	Impersonating   bool                  `json:"impersonating"`
	Context         *ImpersonationContext `json:"impersonationContext,omitempty"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

// Authenticated reports whether the snapshot carries a usable credential.
func (s Snapshot) Authenticated() bool {
	return s.Credential != ""
}

// State derives the tagged variant for the snapshot.
func (s Snapshot) State() State {
	switch {
	case s.Impersonating && s.SavedCredential != "" && s.SavedIdentity != nil:
		return StateImpersonating
	case s.Credential != "":
		return StateAuthenticated
	default:
		return StateAnonymous
	}
}
