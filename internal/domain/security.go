package domain

// SignatureVerifier checks that an inbound delivery really comes from the channel.
type SignatureVerifier interface {
	Verify(url string, params map[string]string, signature string) bool
}
