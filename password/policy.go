package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrTooShort   = errors.New("password too short")
	ErrTooLong    = errors.New("password too long")
	ErrTooSimple  = errors.New("password needs letters and digits")
	ErrSameAsUser = errors.New("password must not contain the username")
)

// Policy is the rule set a new password must satisfy.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireMixed   bool
	RejectUsername bool
}

// DefaultPolicy returns the portal's rotation rules.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      10,
		MaxLength:      256,
		RequireMixed:   true,
		RejectUsername: true,
	}
}

// Check returns the first rule candidate breaks, or nil.
func (p Policy) Check(candidate, username string) error {
	n := utf8.RuneCountInString(candidate)
	if p.MinLength > 0 && n < p.MinLength {
		return ErrTooShort
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return ErrTooLong
	}
	if p.RequireMixed {
		var letter, digit bool
		for _, r := range candidate {
			switch {
			case unicode.IsLetter(r):
				letter = true
			case unicode.IsDigit(r):
				digit = true
			}
		}
		if !letter || !digit {
			return ErrTooSimple
		}
	}
	if p.RejectUsername && username != "" &&
		strings.Contains(strings.ToLower(candidate), strings.ToLower(username)) {
		return ErrSameAsUser
	}
	return nil
}
