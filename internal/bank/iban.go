// Package bank provides structural and checksum validation of IBAN and BIC
// bank identifiers, IBAN masking for display surfaces, and BIC derivation
// for Dutch bank codes.
package bank

import (
	"regexp"
	"strings"

	"direct-debit-engine/pkg/errors"
)

// ibanLengths maps ISO country codes to the fixed IBAN length registered
// for that country. Only SEPA countries the association collects from are
// listed; unknown countries fail validation.
var ibanLengths = map[string]int{
	"AT": 20, "BE": 16, "CH": 21, "DE": 22, "DK": 18,
	"ES": 24, "FI": 18, "FR": 27, "GB": 22, "IE": 22,
	"IT": 27, "LU": 20, "NL": 18, "NO": 15, "PT": 25,
	"SE": 24,
}

// dutchBICs maps NL bank codes to their BIC. Unknown bank codes derive an
// empty BIC rather than an error; the downstream file generator tolerates
// missing BICs for domestic collections.
var dutchBICs = map[string]string{
	"ABNA": "ABNANL2A",
	"ASNB": "ASNBNL21",
	"BUNQ": "BUNQNL2A",
	"INGB": "INGBNL2A",
	"KNAB": "KNABNL2H",
	"RABO": "RABONL2U",
	"RBRB": "RBRBNL21",
	"SNSB": "SNSBNL2A",
	"TRIO": "TRIONL2U",
}

var bicPattern = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

// IBANInfo holds the decomposed parts of a validated IBAN
type IBANInfo struct {
	IBAN          string `json:"iban"`
	Country       string `json:"country"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
}

// Normalize strips whitespace and uppercases a raw IBAN or BIC string
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// ValidateIBAN validates an IBAN structurally and against its mod-97
// checksum. It returns the decomposed IBAN on success and a validation
// error describing the defect on failure.
func ValidateIBAN(raw string) (*IBANInfo, error) {
	iban := Normalize(raw)

	if len(iban) < 4 {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "too short")
	}

	country := iban[:2]
	if !isLetters(country) {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "country prefix must be two letters")
	}

	expectedLength, known := ibanLengths[country]
	if !known {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "unknown country code "+country)
	}
	if len(iban) != expectedLength {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "wrong length for country").
			WithContext("expected_length", expectedLength)
	}

	if !checksumValid(iban) {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "mod-97 checksum failed")
	}

	info := &IBANInfo{
		IBAN:    iban,
		Country: country,
	}

	// The Dutch BBAN is a 4-letter bank code followed by a 10-digit account
	// number. Other countries keep their BBAN opaque.
	if country == "NL" {
		info.BankCode = iban[4:8]
		info.AccountNumber = iban[8:]
	} else {
		info.AccountNumber = iban[4:]
	}

	return info, nil
}

// ValidateDutchIBAN validates an IBAN and additionally requires the Dutch
// country prefix and bank code structure.
func ValidateDutchIBAN(raw string) (*IBANInfo, error) {
	info, err := ValidateIBAN(raw)
	if err != nil {
		return nil, err
	}

	if info.Country != "NL" {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "expected Dutch IBAN, got country "+info.Country)
	}
	if !isLetters(info.BankCode) {
		return nil, errors.ValidationError(errors.CodeInvalidIBAN, "iban", raw).
			WithContext("reason", "Dutch bank code must be four letters")
	}

	return info, nil
}

// checksumValid verifies the ISO 7064 mod-97 checksum: the first four
// characters move to the end, letters map to 10-35, and the resulting
// numeral reduced modulo 97 must leave remainder 1. The reduction runs
// digit by digit so arbitrarily long IBANs never overflow.
func checksumValid(iban string) bool {
	rearranged := iban[4:] + iban[:4]

	remainder := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			remainder = (remainder*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			value := int(r-'A') + 10
			remainder = (remainder*100 + value) % 97
		default:
			return false
		}
	}

	return remainder == 1
}

// ValidateBIC validates the structural pattern of a BIC: a 4-letter bank
// code, a 2-letter country code, a 2-character location code, and an
// optional 3-character branch code.
func ValidateBIC(raw string) error {
	bic := Normalize(raw)
	if !bicPattern.MatchString(bic) {
		return errors.ValidationError(errors.CodeInvalidBIC, "bic", raw)
	}
	return nil
}

// DeriveBIC returns the BIC for a valid Dutch IBAN's bank code. Unknown
// bank codes and non-Dutch IBANs yield an empty string.
func DeriveBIC(iban string) string {
	info, err := ValidateIBAN(iban)
	if err != nil || info.Country != "NL" {
		return ""
	}
	return dutchBICs[info.BankCode]
}

// MaskIBAN masks an IBAN for display: the first four and last four
// characters stay visible. This masking is mandatory on every surface
// outside the secured backend.
func MaskIBAN(iban string) string {
	normalized := Normalize(iban)
	if len(normalized) <= 8 {
		return "****"
	}
	return normalized[:4] + "****" + normalized[len(normalized)-4:]
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(s) > 0
}
