package transform

import (
	"strings"
	"time"
	"unicode"
)

// NormalizeDate renders a legacy timestamp as UTC RFC 3339, the only date
// format the target schema accepts. Nil input yields the empty string.
func NormalizeDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// NormalizePhone strips everything but digits from a legacy phone field.
// Legacy offices entered phones in every imaginable format.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneLast4 returns the last four digits of a normalized phone number, the
// component used in the dedup exact-match tuple. Short numbers return as-is.
func PhoneLast4(phone string) string {
	digits := NormalizePhone(phone)
	if len(digits) <= 4 {
		return digits
	}
	return digits[len(digits)-4:]
}

// NormalizeName lowercases and trims a name for matching purposes.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// patientStatuses maps the legacy numeric patient status to target values.
// The legacy range is validated upstream; anything unmapped is "inactive".
var patientStatuses = map[int]string{
	0:  "inactive",
	1:  "active",
	2:  "active",
	3:  "active",
	4:  "on_hold",
	5:  "on_hold",
	6:  "referred",
	7:  "referred",
	8:  "discharged",
	9:  "discharged",
	10: "deceased",
}

// PatientStatus maps a legacy patient status code to its target value.
func PatientStatus(code int) string {
	if s, ok := patientStatuses[code]; ok {
		return s
	}
	return "inactive"
}

// caseStatuses maps legacy instruction status codes to target case statuses.
var caseStatuses = map[int]string{
	0: "draft",
	1: "open",
	2: "open",
	3: "in_progress",
	4: "in_progress",
	5: "waiting",
	6: "waiting",
	7: "completed",
	8: "completed",
	9: "cancelled",
}

// CaseStatus maps a legacy instruction status code to its target value.
func CaseStatus(code int) string {
	if s, ok := caseStatuses[code]; ok {
		return s
	}
	return "draft"
}

// orderStatuses maps legacy order status codes to target order statuses.
var orderStatuses = map[int]string{
	0: "pending",
	1: "submitted",
	2: "submitted",
	3: "in_fulfillment",
	4: "in_fulfillment",
	5: "shipped",
	6: "delivered",
	7: "completed",
	8: "cancelled",
	9: "cancelled",
}

// OrderStatus maps a legacy order status code to its target value.
func OrderStatus(code int) string {
	if s, ok := orderStatuses[code]; ok {
		return s
	}
	return "pending"
}

// DefaultGender substitutes the documented default for absent legacy gender
// codes: unknown, not null, so downstream reporting can group on it.
func DefaultGender(gender string) string {
	switch gender {
	case "M", "F", "O":
		return gender
	default:
		return "U"
	}
}
