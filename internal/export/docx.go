package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

var pandocTargets = map[string]struct {
	format Format
	mime   string
}{
	"docx": {FormatDOCX, "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
}

// pandocRenderer converts decision HTML with pandoc, writing the document to
// stdout.
func pandocRenderer(target string) renderFunc {
	out := pandocTargets[target]
	return func(ctx context.Context, doc, title string) (*Result, error) {
		bin, err := exec.LookPath("pandoc")
		if err != nil {
			return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
		}

		var stdout, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin,
			"--from=html",
			"--to="+target,
			"--standalone",
			"--metadata=title:"+title,
			"--output=-",
		)
		cmd.Stdin = strings.NewReader(doc)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("pandoc %s: %s", target, msg)
			}
			return nil, fmt.Errorf("pandoc %s: %w", target, err)
		}

		return &Result{
			Data:     stdout.Bytes(),
			Filename: sanitizeFilename(title) + "." + target,
			MimeType: out.mime,
			Format:   out.format,
		}, nil
	}
}
