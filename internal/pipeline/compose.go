package pipeline

import (
	"fmt"
	"strings"
	"time"
)

const sectionDivider = "------------------------------"

// ComposeBody builds the task notes deterministically from the AI
// description, the verbatim forwarded text and the forward provenance.
func ComposeBody(description, combinedText string, meta ForwardMeta) string {
	var sb strings.Builder

	sb.WriteString("CONTEXT:\n")
	sb.WriteString(description)
	sb.WriteString("\n\n")

	sb.WriteString(sectionDivider)
	sb.WriteString("\nORIGINAL MESSAGE:\n")
	// Attachment-only batches have no text; skip the line loop so no bare
	// handle prefix is rendered.
	if combinedText != "" {
		for _, line := range strings.Split(combinedText, "\n") {
			if meta.SenderHandle != "" {
				sb.WriteString("@" + meta.SenderHandle + ": ")
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	sb.WriteString(sectionDivider)
	sb.WriteString("\n\n")

	sb.WriteString(formatProvenance(meta))

	return sb.String()
}

// formatProvenance names the forwarding source, with a deep link when a
// public handle is known, and the forward timestamp.
func formatProvenance(meta ForwardMeta) string {
	source := meta.SenderName
	if source == "" {
		source = "unknown source"
	}
	kind := "user"
	if meta.FromChannel {
		kind = "channel"
	}

	link := ""
	if meta.SenderHandle != "" {
		link = fmt.Sprintf(" (https://t.me/%s)", meta.SenderHandle)
	}

	when := ""
	if !meta.ForwardedAt.IsZero() {
		when = " at " + meta.ForwardedAt.UTC().Format(time.RFC3339)
	}

	return fmt.Sprintf("Forwarded from %s %s%s%s", kind, source, link, when)
}
