package models

// Profile is display data for a user. Read-only for messaging.
type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Role      Role   `json:"role,omitempty"`
}
