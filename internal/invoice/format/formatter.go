package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	seqPadRe     = regexp.MustCompile(`\{SEQ(\d+)\}`)
	clinicSafeRe = regexp.MustCompile(`[^A-Z0-9]+`)
)

const DefaultInvoiceNumberTemplate = "INV-{CLINIC}-{YYYY}{MM}-{SEQ6}"

// FormatInvoiceNumber renders a human-readable invoice number from a
// template, the clinic, the issue time and the clinic-scoped sequence.
// It is pure: no storage access and fully deterministic.
func FormatInvoiceNumber(
	template string,
	clinicID string,
	issuedAt time.Time,
	seq int64,
) (string, error) {
	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	out := template
	if strings.Contains(out, "{CLINIC}") {
		clinic := clinicSafeRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(clinicID)), "")
		if clinic == "" {
			return "", fmt.Errorf("clinic id %q has no printable characters", clinicID)
		}
		out = strings.ReplaceAll(out, "{CLINIC}", clinic)
	}

	issuedAt = issuedAt.UTC()
	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", issuedAt.Format("02"))

	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))
	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}
	return out, nil
}
