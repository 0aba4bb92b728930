package pipeline

import (
	"fmt"
	"strings"

	"github.com/jupark12/voxnotes/models"
)

// ComposeNotification builds the summary mail for a finished job.
func ComposeNotification(job *models.Job, summary string) (subject, body string) {
	subject = fmt.Sprintf("VoxNotes Summary - %s", job.SourceFileName)

	var b strings.Builder
	b.WriteString("Concise summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "The full transcript is available under job %s.\n", job.ID)
	return subject, b.String()
}
