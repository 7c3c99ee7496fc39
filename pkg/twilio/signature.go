package twilio

import (
	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the provider's request signature
const SignatureHeader = "X-Twilio-Signature"

// SignatureValidator checks that webhook requests were signed with the account's auth token.
type SignatureValidator struct {
	validator client.RequestValidator
}

func NewSignatureValidator(authToken string) *SignatureValidator {
	return &SignatureValidator{validator: client.NewRequestValidator(authToken)}
}

// Validate checks signature against the full public URL and the form parameters.
func (v *SignatureValidator) Validate(url string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.validator.Validate(url, params, signature)
}
