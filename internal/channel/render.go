package channel

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	emailMarkdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps(), gmhtml.WithXHTML()),
	)
	emailMarkdownMu sync.Mutex
)

const emailHTMLTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8" /></head>
<body style="font-family: -apple-system, Segoe UI, sans-serif; max-width: 640px; margin: 0 auto; padding: 16px; color: #1a1a1a;">
%s
</body>
</html>`

// renderEmailHTML converts a markdown message body to a standalone HTML
// document. Goldmark renderers are not safe for concurrent use.
func renderEmailHTML(markdown string) (string, error) {
	emailMarkdownMu.Lock()
	defer emailMarkdownMu.Unlock()

	var buf bytes.Buffer
	if err := emailMarkdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("markdown render failed: %w", err)
	}
	return fmt.Sprintf(emailHTMLTemplate, buf.String()), nil
}

// buildAlternativeEmail assembles a multipart/alternative message with the
// plain text body first and its HTML rendering second. All header and body
// lines are CRLF terminated as SMTP requires.
func buildAlternativeEmail(from, to, subject, body string) (string, error) {
	htmlBody, err := renderEmailHTML(body)
	if err != nil {
		return "", err
	}

	boundary := fmt.Sprintf("minder-%d", time.Now().UnixNano())

	var b strings.Builder
	writeLine := func(s string) {
		b.WriteString(s)
		b.WriteString("\r\n")
	}

	writeLine("From: " + from)
	writeLine("To: " + to)
	writeLine("Subject: " + mime.QEncoding.Encode("utf-8", subject))
	writeLine("Date: " + time.Now().Format(time.RFC1123Z))
	writeLine("MIME-Version: 1.0")
	writeLine(`Content-Type: multipart/alternative; boundary="` + boundary + `"`)
	writeLine("")

	writeLine("--" + boundary)
	writeLine(`Content-Type: text/plain; charset="utf-8"`)
	writeLine("Content-Transfer-Encoding: 8bit")
	writeLine("")
	for _, line := range strings.Split(body, "\n") {
		writeLine(strings.TrimRight(line, "\r"))
	}
	writeLine("")

	writeLine("--" + boundary)
	writeLine(`Content-Type: text/html; charset="utf-8"`)
	writeLine("Content-Transfer-Encoding: 8bit")
	writeLine("")
	for _, line := range strings.Split(htmlBody, "\n") {
		writeLine(strings.TrimRight(line, "\r"))
	}
	writeLine("")

	writeLine("--" + boundary + "--")
	return b.String(), nil
}
