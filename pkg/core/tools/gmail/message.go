package gmail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"regexp"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
)

const noBody = "本文を取得できませんでした"

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// headers indexes a payload's headers by lower-cased name.
type headers map[string]string

func headersOf(p *gmailapi.MessagePart) headers {
	h := headers{}
	if p == nil {
		return h
	}
	for _, kv := range p.Headers {
		if kv == nil {
			continue
		}
		key := strings.ToLower(kv.Name)
		if _, dup := h[key]; !dup {
			h[key] = kv.Value
		}
	}
	return h
}

func (h headers) get(name, def string) string {
	if v := strings.TrimSpace(h[strings.ToLower(name)]); v != "" {
		return v
	}
	return def
}

// extractBody prefers the first text/plain part anywhere in the tree and
// falls back to the first text/html part with tags stripped.
func extractBody(p *gmailapi.MessagePart) string {
	if p == nil {
		return noBody
	}
	if body := findPart(p, "text/plain"); body != "" {
		return body
	}
	if html := findPart(p, "text/html"); html != "" {
		if body := strings.TrimSpace(htmlTag.ReplaceAllString(html, "")); body != "" {
			return body
		}
	}
	if len(p.Parts) == 0 && p.Body != nil {
		if body := decodeData(p.Body.Data); body != "" {
			return body
		}
	}
	return noBody
}

func findPart(p *gmailapi.MessagePart, mimeType string) string {
	if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil {
		if body := decodeData(p.Body.Data); body != "" {
			return body
		}
	}
	for _, part := range p.Parts {
		if part == nil {
			continue
		}
		if body := findPart(part, mimeType); body != "" {
			return body
		}
	}
	return ""
}

func decodeData(data string) string {
	if data == "" {
		return ""
	}
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b)
		}
	}
	return ""
}

// quote prefixes every line of body with "> " under an original-message rule.
func quote(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return "\n\n----- Original Message -----\n" + strings.Join(lines, "\n")
}

// outgoing is a plain-text message to be sent or drafted.
type outgoing struct {
	To         []*mail.Address
	Subject    string
	Body       string
	InReplyTo  string
	References string
}

func parseRecipients(to string) ([]*mail.Address, error) {
	addrs, err := mail.ParseAddressList(to)
	if err != nil || len(addrs) == 0 {
		return nil, fmt.Errorf("invalid recipient %q", to)
	}
	return addrs, nil
}

// raw renders the RFC 5322 message in the base64url form the Gmail API takes.
func (m outgoing) raw() string {
	var b bytes.Buffer
	header := func(name, value string) {
		if value = oneLine(value); value != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}

	to := make([]string, 0, len(m.To))
	for _, a := range m.To {
		to = append(to, a.String())
	}
	header("To", strings.Join(to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", oneLine(m.Subject)))
	header("In-Reply-To", m.InReplyTo)
	header("References", m.References)
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "base64")
	b.WriteString("\r\n")

	body := base64.StdEncoding.EncodeToString([]byte(m.Body))
	for len(body) > 76 {
		b.WriteString(body[:76])
		b.WriteString("\r\n")
		body = body[76:]
	}
	b.WriteString(body)
	b.WriteString("\r\n")
	return base64.URLEncoding.EncodeToString(b.Bytes())
}

func oneLine(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
}

func replySubject(subject string) string {
	if strings.HasPrefix(subject, "Re:") || strings.HasPrefix(subject, "RE:") {
		return subject
	}
	return "Re: " + subject
}
