package transfer

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

var validate = validator.New()

// Recipient is the contact a sender addresses a ticket to. Exactly one of
// Email or Phone must be set.
type Recipient struct {
	Email string
	Phone string
	Name  string
}

// Contact is a normalized identifier pair. Either field may be empty.
type Contact struct {
	Email string
	Phone string
}

func (c Contact) Empty() bool {
	return c.Email == "" && c.Phone == ""
}

func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if err := validate.Var(email, "required,email,max=254"); err != nil {
		return "", fmt.Errorf("%w: malformed email %q", ErrInvalidRecipient, raw)
	}
	return email, nil
}

// NormalizePhone parses raw in the context of defaultRegion and returns it
// in E.164 form.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty phone number", ErrInvalidRecipient)
	}
	num, err := phonenumbers.Parse(trimmed, strings.ToUpper(defaultRegion))
	if err != nil {
		return "", fmt.Errorf("%w: malformed phone %q", ErrInvalidRecipient, raw)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: impossible phone number %q", ErrInvalidRecipient, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// normalizeRecipient enforces "exactly one identifier".
func normalizeRecipient(r Recipient, defaultRegion string) (Contact, error) {
	hasEmail := strings.TrimSpace(r.Email) != ""
	hasPhone := strings.TrimSpace(r.Phone) != ""

	switch {
	case hasEmail && hasPhone:
		return Contact{}, fmt.Errorf("%w: provide either an email or a phone, not both", ErrInvalidRecipient)
	case hasEmail:
		email, err := NormalizeEmail(r.Email)
		if err != nil {
			return Contact{}, err
		}
		return Contact{Email: email}, nil
	case hasPhone:
		phone, err := NormalizePhone(r.Phone, defaultRegion)
		if err != nil {
			return Contact{}, err
		}
		return Contact{Phone: phone}, nil
	default:
		return Contact{}, fmt.Errorf("%w: an email or a phone is required", ErrInvalidRecipient)
	}
}

// NormalizeContact accepts any combination of verified identifiers, as an
// account may have confirmed both.
func NormalizeContact(email, phone, defaultRegion string) (Contact, error) {
	var c Contact
	var err error
	if strings.TrimSpace(email) != "" {
		if c.Email, err = NormalizeEmail(email); err != nil {
			return Contact{}, err
		}
	}
	if strings.TrimSpace(phone) != "" {
		if c.Phone, err = NormalizePhone(phone, defaultRegion); err != nil {
			return Contact{}, err
		}
	}
	if c.Empty() {
		return Contact{}, fmt.Errorf("%w: no verified contact identifier", ErrInvalidRecipient)
	}
	return c, nil
}
