package gateway

import (
	"fmt"
	"strings"
)

// DefaultCountryCode — код страны, в которой работают операторы MTN и Orange.
const DefaultCountryCode = "237"

// nationalNumberLen — длина национального мобильного номера (6XXXXXXXX).
const nationalNumberLen = 9

// NormalizePhone приводит номер к виду <код страны><национальный номер>, только цифры.
//
// Убираются пробелы, скобки, '+' и международный префикс 00; код страны
// добавляется, если его нет, и схлопывается, если он повторён.
func NormalizePhone(raw, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	digits = strings.TrimPrefix(digits, "00")

	for strings.HasPrefix(digits, countryCode+countryCode) {
		digits = strings.TrimPrefix(digits, countryCode)
	}
	if !strings.HasPrefix(digits, countryCode) || len(digits) == nationalNumberLen {
		digits = countryCode + digits
	}

	if len(digits) != len(countryCode)+nationalNumberLen {
		return "", &Error{Code: CodeInvalidDestination, Message: fmt.Sprintf("phone %q is not a %d-digit mobile number", raw, nationalNumberLen)}
	}
	return digits, nil
}

// nationalNumber отрезает код страны от нормализованного номера.
func nationalNumber(normalized, countryCode string) string {
	return strings.TrimPrefix(normalized, countryCode)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
