package jwt

type Role int

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Admin identifies the operator a token was issued to.
type Admin struct {
	Id    string `json:"id"`
	Email string `json:"email"`
}
