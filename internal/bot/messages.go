package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/propdash/propdash/internal/rehab"
	"github.com/shopspring/decimal"
)

// =============================================================================
// General messages
// =============================================================================

const (
	MsgUnexpectedErr  = `Unexpected error: %s`
	MsgVersionInfo    = "Version: %s\nBuilt: %s"
	MsgUnknownCommand = "Unknown command. Send /help for usage."
	MsgStart          = `
		Send me up to %d photos of a property, then run /estimate.

		<code>/estimate</code> estimates without a floor area
		<code>/estimate 1450</code> uses 1450 sq ft
		<code>/clear</code> drops the collected photos
	`
)

// =============================================================================
// Estimate messages
// =============================================================================

const (
	MsgPhotoAdded           = "Got it, %s collected. Send more or run /estimate."
	MsgPhotoLimitReached    = "Only %d photos fit in one estimate. Run /estimate or /clear."
	MsgPhotosCleared        = "Photos cleared."
	MsgNoPhotos             = "Send some property photos first."
	MsgInvalidSquareFootage = "Could not read <code>%s</code> as square footage. Example: /estimate 1450"
	MsgEstimating           = "Estimating rehab costs from %s…"
	MsgEstimateFailed       = "Estimate failed: %s"
)

func escapeHTML(s string) string {
	return html.EscapeString(s)
}

// formatMoney renders a dollar amount rounded to whole dollars with
// thousands separators, e.g. $48,250.
func formatMoney(v float64) string {
	d := decimal.NewFromFloat(v).Round(0)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}

	digits := d.StringFixed(0)
	var b strings.Builder
	for i, c := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + "$" + b.String()
}

// formatEstimate renders an estimate as a Telegram HTML message.
func formatEstimate(e *rehab.RehabEstimate) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>Rehab estimate: %s</b>\n", formatMoney(e.TotalEstimatedCost))
	fmt.Fprintf(&b, "Difficulty: %d/10\n", e.OverallDifficulty)
	fmt.Fprintf(&b, "Recommendation: <b>%s</b>\n", escapeHTML(string(e.StrategyAnalysis.Recommendation)))

	if e.SummaryDescription != "" {
		fmt.Fprintf(&b, "\n%s\n", escapeHTML(e.SummaryDescription))
	}

	if len(e.RoomBreakdowns) > 0 {
		b.WriteString("\n<b>Rooms</b>\n")
		for _, room := range e.RoomBreakdowns {
			fmt.Fprintf(&b, "• %s (photo %d): %s\n",
				escapeHTML(room.Room), room.SourceImageIndex+1, formatMoney(room.RoomTotal))
		}
	}

	if len(e.HiddenDamageWarnings) > 0 {
		b.WriteString("\n<b>Watch out for</b>\n")
		for _, w := range e.HiddenDamageWarnings {
			fmt.Fprintf(&b, "• %s\n", escapeHTML(w))
		}
	}

	return strings.TrimSpace(b.String())
}
