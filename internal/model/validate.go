package model

import (
	"regexp"

	"github.com/ignite/mailflow/internal/errs"
)

var addressRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidAddress reports whether s conforms to the email-address grammar.
func ValidAddress(s string) bool {
	return addressRegex.MatchString(s)
}

// Validate checks the invariants of an outbound request: non-empty
// correlation id, a valid from address, at least one recipient, a
// subject, at least one body alternative, and well-formed addresses
// throughout.
func (r *OutboundRequest) Validate() error {
	if r.CorrelationID == "" {
		return errs.New(errs.Validation, "missing correlation_id")
	}
	if r.Email.From.Address == "" {
		return errs.New(errs.Validation, "missing from address")
	}
	if !ValidAddress(r.Email.From.Address) {
		return errs.New(errs.Validation, "invalid from address")
	}
	if len(r.Email.To) == 0 {
		return errs.New(errs.Validation, "at least one recipient required")
	}
	if r.Email.Subject == "" {
		return errs.New(errs.Validation, "missing subject")
	}
	if r.Email.Body.Text == "" && r.Email.Body.HTML == "" {
		return errs.New(errs.Validation, "body must carry text or html")
	}
	for _, group := range [][]EmailAddress{r.Email.To, r.Email.Cc, r.Email.Bcc} {
		for _, a := range group {
			if !ValidAddress(a.Address) {
				return errs.New(errs.Validation, "invalid recipient address")
			}
		}
	}
	if r.Email.ReplyTo != nil && !ValidAddress(r.Email.ReplyTo.Address) {
		return errs.New(errs.Validation, "invalid reply_to address")
	}
	return nil
}
