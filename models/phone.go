package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// PhoneDigits is the length of a normalized phone.
const PhoneDigits = 10

// NormalizePhone strips every non-digit and keeps the last ten digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < PhoneDigits {
		return "", fmt.Errorf("%w: %q has fewer than %d digits", ErrInvalidPhone, raw, PhoneDigits)
	}
	return digits[len(digits)-PhoneDigits:], nil
}

// Phone is a phone field that normalizes itself when decoded. Values that
// cannot be normalized are kept as given so legacy records still load.
type Phone string

func (p Phone) String() string { return string(p) }

// Normalized returns the ten digit form or ErrInvalidPhone.
func (p Phone) Normalized() (string, error) {
	return NormalizePhone(string(p))
}

// Matches reports whether p normalizes to the given normalized phone.
func (p Phone) Matches(normalized string) bool {
	n, err := p.Normalized()
	return err == nil && normalized != "" && n == normalized
}

func (p *Phone) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		// numeric phones show up in hand-edited data files
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("phone: %w", err)
		}
		raw = n.String()
	}
	if normalized, err := NormalizePhone(raw); err == nil {
		*p = Phone(normalized)
		return nil
	}
	*p = Phone(strings.TrimSpace(raw))
	return nil
}
