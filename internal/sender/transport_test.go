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
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agencyops/mailflow/internal/identity"
	"github.com/agencyops/mailflow/internal/models"
)

// smtpServer is a minimal plaintext SMTP server that records one session.
type smtpServer struct {
	ln   net.Listener
	auth string // advertised mechanism, "" for none

	mu       sync.Mutex
	authLine string
	from     string
	rcpts    []string
	data     string
}

func startSMTPServer(t *testing.T, auth string) *smtpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return serveSMTP(t, ln, auth)
}

func serveSMTP(t *testing.T, ln net.Listener, auth string) *smtpServer {
	s := &smtpServer{ln: ln, auth: auth}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *smtpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *smtpServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }

	reply("220 localhost ESMTP test")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		switch cmd {
		case "EHLO", "HELO":
			if s.auth != "" {
				reply("250-localhost")
				reply("250 AUTH " + s.auth)
			} else {
				reply("250 localhost")
			}
		case "AUTH":
			s.mu.Lock()
			s.authLine = line
			s.mu.Unlock()
			reply("235 2.7.0 Authentication successful")
		case "MAIL":
			s.mu.Lock()
			s.from = line
			s.mu.Unlock()
			reply("250 OK")
		case "RCPT":
			s.mu.Lock()
			s.rcpts = append(s.rcpts, line)
			s.mu.Unlock()
			if strings.Contains(line, "reject@") {
				reply("550 5.1.1 mailbox unavailable")
				continue
			}
			reply("250 OK")
		case "DATA":
			reply("354 go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = b.String()
			s.mu.Unlock()
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func (s *smtpServer) session() (authLine, from string, rcpts []string, data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authLine, s.from, append([]string(nil), s.rcpts...), s.data
}

func localIdentity(port int) *models.MailIdentity {
	return &models.MailIdentity{
		ID:        1,
		Host:      "127.0.0.1",
		Port:      port,
		FromEmail: "info@agency.example",
	}
}

// TestSMTPTransport_Send verifies envelope and content reach the server.
func TestSMTPTransport_Send(t *testing.T) {
	srv := startSMTPServer(t, "")
	tr := NewSMTPTransport(SMTPConfig{DialTimeout: time.Second})

	err := tr.Send(context.Background(), localIdentity(srv.port()), Outgoing{
		To:      "kunde@example.com",
		CC:      []string{"agent@agency.example"},
		Subject: "Demo",
		Body:    "Hallo",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	authLine, from, rcpts, data := srv.session()
	if authLine != "" {
		t.Errorf("unexpected AUTH without credentials: %q", authLine)
	}
	if !strings.Contains(from, "<info@agency.example>") {
		t.Errorf("MAIL = %q", from)
	}
	if len(rcpts) != 2 || !strings.Contains(rcpts[0], "kunde@example.com") || !strings.Contains(rcpts[1], "agent@agency.example") {
		t.Errorf("RCPT = %v", rcpts)
	}
	if !strings.Contains(data, "Subject: Demo") || !strings.Contains(data, "multipart/alternative") {
		t.Errorf("DATA = %q", data)
	}
}

// TestSMTPTransport_PlainAuth verifies stored credentials are used.
func TestSMTPTransport_PlainAuth(t *testing.T) {
	srv := startSMTPServer(t, "PLAIN")
	tr := NewSMTPTransport(SMTPConfig{DialTimeout: time.Second})

	ident := localIdentity(srv.port())
	ident.Username = "info@agency.example"
	ident.Password = "geheim"

	if err := tr.Send(context.Background(), ident, Outgoing{To: "kunde@example.com", Subject: "x", Body: "y"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	authLine, _, _, _ := srv.session()
	parts := strings.Fields(authLine)
	if len(parts) != 3 || parts[1] != "PLAIN" {
		t.Fatalf("AUTH = %q", authLine)
	}
	decoded, _ := base64.StdEncoding.DecodeString(parts[2])
	if string(decoded) != "\x00info@agency.example\x00geheim" {
		t.Errorf("credentials = %q", decoded)
	}
}

// TestSMTPTransport_PlainAuthWithoutTLS verifies identities with TLS off
// still authenticate against a host other than localhost.
func TestSMTPTransport_PlainAuthWithoutTLS(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.2:0")
	if err != nil {
		t.Skipf("127.0.0.2 not available: %v", err)
	}
	srv := serveSMTP(t, ln, "PLAIN")
	tr := NewSMTPTransport(SMTPConfig{DialTimeout: time.Second})

	ident := localIdentity(srv.port())
	ident.Host = "127.0.0.2"
	ident.Username = "info@agency.example"
	ident.Password = "geheim"
	ident.UseTLS = false

	if err := tr.Send(context.Background(), ident, Outgoing{To: "kunde@example.com", Subject: "x", Body: "y"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	authLine, _, _, _ := srv.session()
	parts := strings.Fields(authLine)
	if len(parts) != 3 || parts[1] != "PLAIN" {
		t.Fatalf("AUTH = %q", authLine)
	}
	decoded, _ := base64.StdEncoding.DecodeString(parts[2])
	if string(decoded) != "\x00info@agency.example\x00geheim" {
		t.Errorf("credentials = %q", decoded)
	}
}

// TestSMTPTransport_XOAuth2 verifies client-credentials tokens are used for
// XOAUTH2 identities.
func TestSMTPTransport_XOAuth2(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	srv := startSMTPServer(t, "XOAUTH2")
	tr := NewSMTPTransport(SMTPConfig{
		DialTimeout: time.Second,
		Tokens:      identity.NewTokenCache(tokenSrv.Client()),
	})

	ident := localIdentity(srv.port())
	ident.Username = "info@agency.example"
	ident.AuthMethod = models.AuthXOAuth2
	ident.OAuthTokenURL = tokenSrv.URL
	ident.OAuthClientID = "mailflow"
	ident.OAuthClientSecret = "secret"

	if err := tr.Send(context.Background(), ident, Outgoing{To: "kunde@example.com", Subject: "x", Body: "y"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	authLine, _, _, _ := srv.session()
	parts := strings.Fields(authLine)
	if len(parts) != 3 || parts[1] != "XOAUTH2" {
		t.Fatalf("AUTH = %q", authLine)
	}
	decoded, _ := base64.StdEncoding.DecodeString(parts[2])
	if want := "user=info@agency.example\x01auth=Bearer tok-123\x01\x01"; string(decoded) != want {
		t.Errorf("XOAUTH2 response = %q, want %q", decoded, want)
	}
}

// TestSMTPTransport_Failures verifies transport errors are returned.
func TestSMTPTransport_Failures(t *testing.T) {
	srv := startSMTPServer(t, "")
	tr := NewSMTPTransport(SMTPConfig{DialTimeout: time.Second})

	if err := tr.Send(context.Background(), localIdentity(srv.port()), Outgoing{To: "reject@example.com", Body: "x"}); err == nil {
		t.Error("expected error for rejected recipient")
	}

	if err := tr.Send(context.Background(), localIdentity(srv.port()), Outgoing{To: "", Body: "x"}); err == nil {
		t.Error("expected error for empty recipient")
	}

	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	closedPort := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	if err := tr.Send(context.Background(), localIdentity(closedPort), Outgoing{To: "kunde@example.com", Body: "x"}); err == nil {
		t.Error("expected error for refused connection")
	}
}
