package email

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"

	"github.com/nhle/mailsort/internal/model"
)

const (
	snippetLen  = 200
	maxBodyText = 8 * 1024
)

var stripHTML = bluemonday.StrictPolicy()

// messageFromBuffer normalizes a fetched IMAP message.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) model.MailboxMessage {
	msg := model.MailboxMessage{
		ID: strconv.FormatUint(uint64(buf.UID), 10),
	}

	if env := buf.Envelope; env != nil {
		msg.MessageID = env.MessageID
		msg.Subject = env.Subject
		msg.Date = env.Date
		if len(env.From) > 0 {
			msg.From = env.From[0].Addr()
		}
		for _, to := range env.To {
			msg.To = append(msg.To, to.Addr())
		}
		if len(env.InReplyTo) > 0 {
			msg.ThreadID = env.InReplyTo[0]
		}
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			msg.IsRead = true
		}
	}

	if buf.BodyStructure != nil {
		msg.HasAttachments = hasAttachment(buf.BodyStructure)
	}

	// Only one body section is requested, so the first one is ours.
	if len(buf.BodySection) > 0 {
		text, html, attached := parseMIMEBody(buf.BodySection[0].Bytes)
		if text == "" && html != "" {
			text = stripHTML.Sanitize(html)
		}
		text = collapseSpace(text)
		msg.Body = truncateRunes(text, maxBodyText)
		msg.Snippet = truncateRunes(text, snippetLen)
		msg.HasAttachments = msg.HasAttachments || attached
	}

	return msg
}

func hasAttachment(bs imap.BodyStructure) bool {
	found := false
	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}
		if d := single.Disposition(); d != nil && strings.EqualFold(d.Value, "attachment") {
			found = true
		}
		return !found
	})
	return found
}

// parseMIMEBody extracts the text/plain and text/html bodies of a raw
// RFC 5322 message. The input may be truncated; whatever was read before
// the cut is kept.
func parseMIMEBody(raw []byte) (textBody, htmlBody string, attachment bool) {
	if len(raw) == 0 {
		return "", "", false
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return string(raw), "", false
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) && len(body) == 0 {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain") && textBody == "":
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
				htmlBody = string(body)
			}
		case *mail.AttachmentHeader:
			attachment = true
		}
	}

	return textBody, htmlBody, attachment
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
