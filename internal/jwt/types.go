package jwt

// Operator is the staff identity carried by an operator bearer token.
type Operator struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
