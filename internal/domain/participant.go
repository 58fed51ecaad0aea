package domain

// ParticipantRef is the identity of a remote user inside one call.
// The provider owns the participant; this is only a reference.
type ParticipantRef struct {
	SessionID string `json:"session_id"`
	UserID    UserID `json:"user_id"`
}
