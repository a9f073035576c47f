package provider

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
)

const base64LineLength = 76

// BuildMIME renders msg as an RFC 5322 message. Messages with attachments are
// multipart/mixed with the HTML body as the first part.
func BuildMIME(from Sender, msg Message, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	to := (&mail.Address{Name: msg.ToName, Address: msg.To}).String()

	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", to)
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader(&buf, "Date", now.Format(time.RFC1123Z))
	if messageID != "" {
		writeHeader(&buf, "Message-ID", "<"+messageID+">")
	}
	writeHeader(&buf, "MIME-Version", "1.0")

	if len(msg.Attachments) == 0 {
		writeHeader(&buf, "Content-Type", "text/html; charset=UTF-8")
		writeHeader(&buf, "Content-Transfer-Encoding", "base64")
		buf.WriteString("\r\n")
		writeBase64(&buf, []byte(msg.HTML))
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/mixed; boundary=%s", mw.Boundary()))
	buf.WriteString("\r\n")

	bodyHeader := textproto.MIMEHeader{}
	bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	bodyHeader.Set("Content-Transfer-Encoding", "base64")
	part, err := mw.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	writeBase64(part, []byte(msg.HTML))

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		filename := mime.QEncoding.Encode("utf-8", att.Filename)

		header := textproto.MIMEHeader{}
		header.Set("Content-Type", fmt.Sprintf("%s; name=%q", contentType, filename))
		header.Set("Content-Transfer-Encoding", "base64")
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

		part, err := mw.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part %q: %w", att.Filename, err)
		}
		writeBase64(part, att.Data)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	buf.WriteString(key)
	buf.WriteString(": ")
	buf.WriteString(strings.NewReplacer("\r", "", "\n", "").Replace(value))
	buf.WriteString("\r\n")
}

func writeBase64(w io.Writer, data []byte) {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > base64LineLength {
		_, _ = w.Write([]byte(encoded[:base64LineLength] + "\r\n"))
		encoded = encoded[base64LineLength:]
	}
	_, _ = w.Write([]byte(encoded + "\r\n"))
}
