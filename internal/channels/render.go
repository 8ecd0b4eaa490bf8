package channels

import (
	"fmt"
	"strings"

	"smartmoney-alerts/internal/models"
)

// Renderer turns a scored event into a channel-ready message. It must
// be deterministic; the dispatcher may render the same event more than
// once across retries.
type Renderer func(event *models.Event) Message

const maxCompactLength = 280

// RendererFor returns the renderer conventionally paired with a
// channel. Short-form channels get the compact rendering, everything
// else the detailed one.
func RendererFor(channel string) Renderer {
	if channel == "twitter" {
		return CompactRenderer
	}
	return DetailedRenderer
}

// CompactRenderer produces a short-form alert capped at 280
// characters, with cashtag and hashtag tags.
func CompactRenderer(event *models.Event) Message {
	var b strings.Builder

	action := "bought"
	if event.TransactionType == models.TxnSale {
		action = "sold"
	}

	fmt.Fprintf(&b, "$%s %s alert: %s %s %s of stock",
		event.Ticker, sourceLabel(event.SourceKind), actorLabel(event), action,
		FormatValue(event.TotalValue))

	if note := anomalyNote(event); note != "" {
		b.WriteString("\n")
		b.WriteString(note)
	}

	tags := []string{"$" + cleanTicker(event.Ticker), "#insidertrading"}
	text := b.String()
	if len(text) > maxCompactLength {
		text = trimToLength(text, maxCompactLength)
	}

	return Message{EventID: event.ID, Text: text, Tags: tags}
}

// DetailedRenderer produces a long-form alert with the full fact set
// and score, suitable for chat channels without tight length limits.
func DetailedRenderer(event *models.Event) Message {
	var b strings.Builder

	action := "BUY"
	switch event.TransactionType {
	case models.TxnSale:
		action = "SELL"
	case models.TxnOther:
		action = "OTHER"
	}

	fmt.Fprintf(&b, "**%s ALERT**\n\n", strings.ToUpper(sourceLabel(event.SourceKind)))
	fmt.Fprintf(&b, "**Ticker:** $%s\n", event.Ticker)
	if event.Company != "" {
		fmt.Fprintf(&b, "**Company:** %s\n", event.Company)
	}
	fmt.Fprintf(&b, "**Actor:** %s\n", actorLabel(event))
	fmt.Fprintf(&b, "**Action:** %s\n", action)
	if event.Shares > 0 {
		fmt.Fprintf(&b, "**Shares:** %s\n", formatCount(event.Shares))
	}
	if event.PricePerShare > 0 {
		fmt.Fprintf(&b, "**Price:** $%.2f\n", event.PricePerShare)
	}
	fmt.Fprintf(&b, "**Total Value:** %s\n", FormatValue(event.TotalValue))
	if !event.TransactionDate.IsZero() {
		fmt.Fprintf(&b, "**Trade Date:** %s\n", event.TransactionDate.Format("2006-01-02"))
	}

	if len(event.Anomalies) > 0 {
		b.WriteString("\n**Notable:**\n")
		for _, tag := range event.Anomalies {
			fmt.Fprintf(&b, "- %s\n", anomalyText(tag))
		}
	}

	if event.Score != nil {
		fmt.Fprintf(&b, "\n**Score:** %d/100 (tier %d)", *event.Score, event.Tier)
	}

	return Message{
		EventID: event.ID,
		Text:    strings.TrimSpace(b.String()),
		Tags:    []string{"$" + cleanTicker(event.Ticker)},
	}
}

// FormatValue renders a dollar amount in compact notation.
func FormatValue(value float64) string {
	switch {
	case value >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", value/1_000_000_000)
	case value >= 1_000_000:
		return fmt.Sprintf("$%.1fM", value/1_000_000)
	case value >= 1_000:
		return fmt.Sprintf("$%.0fK", value/1_000)
	default:
		return fmt.Sprintf("$%.0f", value)
	}
}

func sourceLabel(kind models.SourceKind) string {
	switch kind {
	case models.SourceCongress:
		return "congress trade"
	case models.SourceFund:
		return "fund position"
	default:
		return "insider trade"
	}
}

func actorLabel(event *models.Event) string {
	name := event.ActorName
	if name == "" {
		name = "Unknown"
	}
	if len(name) > 25 {
		parts := strings.Fields(name)
		if len(parts) >= 2 {
			name = parts[0] + " " + parts[len(parts)-1]
		}
	}
	if event.ActorRole != "" {
		return name + " (" + event.ActorRole + ")"
	}
	return name
}

func anomalyNote(event *models.Event) string {
	if len(event.Anomalies) == 0 {
		return ""
	}
	return anomalyText(event.Anomalies[0])
}

func anomalyText(tag models.AnomalyTag) string {
	switch tag {
	case models.AnomalyRoleBuy:
		return "Executive buying with their own money"
	case models.AnomalyClusterBuy:
		return "Multiple insiders buying in the same window"
	case models.AnomalyFirstPurchaseInYears:
		return "First purchase in years"
	case models.AnomalyUnusuallyLarge:
		return "Far larger than their usual transactions"
	default:
		return string(tag)
	}
}

func cleanTicker(ticker string) string {
	ticker = strings.ReplaceAll(ticker, ".", "")
	return strings.ReplaceAll(ticker, "-", "")
}

func formatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// trimToLength cuts text at a word boundary and appends an ellipsis.
func trimToLength(text string, max int) string {
	trimmed := text[:max-3]
	cut := strings.LastIndexAny(trimmed, " \n")
	if cut > max/2 {
		trimmed = trimmed[:cut]
	}
	return trimmed + "..."
}
