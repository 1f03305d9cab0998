package event

import "github.com/google/uuid"

// IdentifyKey is the property carrying the actor sub-object. The analytics
// backend resolves it into a profile.
const IdentifyKey = "__identify"

// Identity describes the actor behind an event. Only ProfileID is required;
// an anonymous actor uses the installation's unique id.
type Identity struct {
	ProfileID string `json:"profileId"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// Anonymous returns the identity used when the host has no actor to report.
func Anonymous(uniqueID string) Identity {
	return Identity{ProfileID: uniqueID}
}

// IsAnonymous reports whether the identity carries nothing but a profile id.
func (i Identity) IsAnonymous() bool {
	return i.Email == "" && i.FirstName == "" && i.LastName == ""
}

// Properties renders the identity as the ordered sub-object that is attached
// to events.
func (i Identity) Properties() *Properties {
	p := Of("profileId", i.ProfileID)
	if i.Email != "" {
		p.Set("email", i.Email)
	}
	if i.FirstName != "" {
		p.Set("firstName", i.FirstName)
	}
	if i.LastName != "" {
		p.Set("lastName", i.LastName)
	}
	return p
}

// NewProfileID generates a random UUID v4 suitable as Identity.ProfileID.
func NewProfileID() string {
	return uuid.NewString()
}
