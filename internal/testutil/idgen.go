package testutil

// FixedTokenGenerator returns the same token ID every time. Useful for
// tests asserting on token identity without caring about sequencing.
//
// Stateless; safe for concurrent use.
type FixedTokenGenerator struct {
	Token string
}

// Generate returns the fixed token ID, defaulting to "test-token".
func (g FixedTokenGenerator) Generate() string {
	if g.Token == "" {
		return "test-token"
	}
	return g.Token
}
