// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sender

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/agencyops/mailflow/internal/models"
	"github.com/agencyops/mailflow/internal/render"
)

// Outgoing is one message ready for transport. Body is either HTML or
// plain text; the other alternative is derived from it.
type Outgoing struct {
	To      string
	CC      []string
	Subject string
	Body    string
}

// Recipients returns every envelope recipient.
func (o Outgoing) Recipients() []string {
	return append([]string{o.To}, o.CC...)
}

// BuildMessage renders o as a multipart/alternative RFC 5322 message sent
// from ident.
func BuildMessage(ident *models.MailIdentity, o Outgoing, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: ident.FromName, Address: ident.FromEmail}})
	h.SetAddressList("To", []*mail.Address{{Address: o.To}})
	if len(o.CC) > 0 {
		cc := make([]*mail.Address, 0, len(o.CC))
		for _, addr := range o.CC {
			cc = append(cc, &mail.Address{Address: addr})
		}
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(o.Subject)
	h.SetMessageID(uuid.NewString() + "@" + domainOf(ident.FromEmail))

	textBody, htmlBody := alternatives(o.Body)

	var buf bytes.Buffer
	alt, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if err := writePart(alt, "text/plain", textBody); err != nil {
		return nil, err
	}
	if err := writePart(alt, "text/html", htmlBody); err != nil {
		return nil, err
	}
	if err := alt.Close(); err != nil {
		return nil, fmt.Errorf("close message: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(alt *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := alt.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s part: %w", contentType, err)
	}
	return nil
}

// alternatives returns the text and HTML renditions of body.
func alternatives(body string) (text, html string) {
	if render.LooksLikeHTML(body) {
		return render.HTMLToText(body), body
	}
	return body, render.PlainToHTML(body)
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
