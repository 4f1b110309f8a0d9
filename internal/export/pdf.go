package export

import (
	"context"
	"fmt"
	"html"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Paper is a page size in inches.
type Paper struct {
	Width, Height float64
}

var (
	PaperLetter = Paper{Width: 8.5, Height: 11}
	PaperA4     = Paper{Width: 8.27, Height: 11.69}
)

// PaperByName maps "a4" to PaperA4; anything else is PaperLetter.
func PaperByName(name string) Paper {
	if strings.EqualFold(strings.TrimSpace(name), "a4") {
		return PaperA4
	}
	return PaperLetter
}

const (
	pdfMarginInches = 0.75
	pdfTimeout      = 30 * time.Second
)

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "headless-shell"}

func findChrome() (string, bool) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// pageFooter is printed on every sheet of a decision record.
func pageFooter(title string) string {
	return `<div style="font-size:8px;width:100%;padding:0 0.75in;color:#666;display:flex;justify-content:space-between">` +
		`<span>` + html.EscapeString(title) + `</span>` +
		`<span><span class="pageNumber"></span> / <span class="totalPages"></span></span></div>`
}

func browserOptions(chrome string) []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chrome),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
}

// loadDocument replaces the blank page's content with doc.
func loadDocument(doc string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("frame tree: %w", err)
		}
		return page.SetDocumentContent(tree.Frame.ID, doc).Do(ctx)
	})
}

func printDecision(paper Paper, title string, out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(paper.Width).
			WithPaperHeight(paper.Height).
			WithMarginTop(pdfMarginInches).
			WithMarginBottom(pdfMarginInches).
			WithMarginLeft(pdfMarginInches).
			WithMarginRight(pdfMarginInches).
			WithDisplayHeaderFooter(true).
			WithHeaderTemplate("<span></span>").
			WithFooterTemplate(pageFooter(title)).
			Do(ctx)
		*out = data
		return err
	})
}

// pdfRenderer prints decision HTML with headless Chromium.
func pdfRenderer(paper Paper) renderFunc {
	return func(parent context.Context, doc, title string) (*Result, error) {
		chrome, ok := findChrome()
		if !ok {
			return nil, fmt.Errorf("%w: chromium not installed", ErrPDFDependencyMissing)
		}

		ctx, cancel := context.WithTimeout(parent, pdfTimeout)
		defer cancel()
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, browserOptions(chrome)...)
		defer cancelAlloc()
		browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
		defer cancelBrowser()

		var data []byte
		if err := chromedp.Run(browserCtx,
			chromedp.Navigate("about:blank"),
			loadDocument(doc),
			chromedp.WaitReady("body"),
			printDecision(paper, title, &data),
		); err != nil {
			return nil, fmt.Errorf("render decision pdf: %w", err)
		}

		return &Result{
			Data:     data,
			Filename: sanitizeFilename(title) + ".pdf",
			MimeType: "application/pdf",
			Format:   FormatPDF,
		}, nil
	}
}

const maxFilenameLen = 50

// sanitizeFilename keeps ASCII letters, digits, '-' and '_'; spaces become
// hyphens and everything else is dropped.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		if b.Len() == maxFilenameLen {
			break
		}
		switch {
		case r == ' ':
			b.WriteByte('-')
		case r < 0x80 && (r == '-' || r == '_' || isAlnum(byte(r))):
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "decision"
	}
	return b.String()
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
