package notification

import (
	"Go2NetVision/internal/engine/manager"
	"Go2NetVision/internal/model"
	"fmt"
	"log"
	"strings"
)

// SummaryMessage renders the end-of-run notification.
func SummaryMessage(s manager.Summary) (subject, body string) {
	subject = fmt.Sprintf("ntv: %d %s artifacts written", s.Totals.ArtifactsWritten, s.Format)

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s finished in %s.\n", s.RunID, s.Duration)
	fmt.Fprintf(&b, "Output directory: %s\n", s.OutputDir)
	fmt.Fprintf(&b, "Packets dispatched: %d, dropped: %d\n", s.Totals.PacketsDispatched, s.Totals.PacketsDropped)
	fmt.Fprintf(&b, "Sessions: %d, artifacts: %d, failures: %d\n",
		s.Totals.SessionsEmitted, s.Totals.ArtifactsWritten, s.Totals.WriteFailures)
	if !s.Drained() {
		fmt.Fprintf(&b, "WARNING: %d live flows and %d queued sessions remained at exit.\n", s.LiveFlows, s.Queued)
	}
	return subject, b.String()
}

// NotifyAll sends the summary through every notifier, logging failures.
func NotifyAll(notifiers []model.Notifier, s manager.Summary) {
	subject, body := SummaryMessage(s)
	for _, n := range notifiers {
		if err := n.Send(subject, body); err != nil {
			log.Printf("Failed to send run notification: %v", err)
		}
	}
}
