// Package expense parses free-form expense phrases and records the
// resulting entries into an append-only ledger.
//
// A phrase like "500 padaria nubank" or "32,90 mercado inter" breaks
// down into a value, a description and an account. The account is
// always the last word, everything between the value and the account
// is the description.
package expense

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HelpMessage is sent back when a phrase cannot be parsed.
const HelpMessage = "Não entendi. Exemplo: `500 padaria nubank`"

// valuePattern matches the first monetary amount in a phrase. Accepts
// 500, 500.50 and 500,50.
var valuePattern = regexp.MustCompile(`(\d+(?:[.,]\d{1,2})?)`)

// Entry is a parsed expense ready to be recorded.
type Entry struct {
	Value       float64
	Description string
	Account     string
	Original    string
}

// Parse extracts an expense entry from a phrase. The boolean reports
// whether the phrase was understood.
func Parse(text string) (Entry, bool) {
	t := strings.TrimSpace(strings.ToLower(text))
	t = strings.ReplaceAll(t, "r$", "")
	t = strings.ReplaceAll(t, "reais", "")
	t = strings.TrimSpace(t)

	loc := valuePattern.FindStringIndex(t)
	if loc == nil {
		return Entry{}, false
	}

	// Brazilian convention: dot is a thousands separator, comma is
	// the decimal mark.
	raw := t[loc[0]:loc[1]]
	raw = strings.ReplaceAll(raw, ".", "")
	raw = strings.ReplaceAll(raw, ",", ".")

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Entry{}, false
	}

	rest := strings.TrimSpace(t[:loc[0]] + t[loc[1]:])
	parts := strings.Fields(rest)

	entry := Entry{Value: value, Original: text}
	switch {
	case len(parts) >= 2:
		entry.Account = parts[len(parts)-1]
		entry.Description = strings.Join(parts[:len(parts)-1], " ")
	case len(parts) == 1:
		entry.Description = parts[0]
	}

	return entry, true
}

// Confirmation renders the reply acknowledging a recorded entry.
// Decimal dots become commas throughout, matching how amounts are
// written in Portuguese.
func (e Entry) Confirmation() string {
	msg := fmt.Sprintf("Lançado ✅ R$ %.2f | %s | %s", e.Value, e.Description, e.Account)
	return strings.ReplaceAll(msg, ".", ",")
}
