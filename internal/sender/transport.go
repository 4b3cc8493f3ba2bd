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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/agencyops/mailflow/internal/clock"
	"github.com/agencyops/mailflow/internal/identity"
	"github.com/agencyops/mailflow/internal/models"
)

// ImplicitTLSPort is the SMTP submission port that speaks TLS from the
// first byte. Every other port upgrades with STARTTLS when UseTLS is set.
const ImplicitTLSPort = 465

// DefaultDialTimeout bounds the TCP connect to a mail identity's host.
const DefaultDialTimeout = 30 * time.Second

// Transport delivers one message through a mail identity.
type Transport interface {
	Send(ctx context.Context, ident *models.MailIdentity, msg Outgoing) error
}

// SMTPTransport delivers over SMTP using the identity's stored settings.
type SMTPTransport struct {
	dialTimeout time.Duration
	tokens      *identity.TokenCache
	tlsConfig   *tls.Config
	clock       clock.Clock
}

// SMTPConfig holds settings for the SMTP transport.
type SMTPConfig struct {
	DialTimeout time.Duration
	Tokens      *identity.TokenCache // required for XOAUTH2 identities
	Clock       clock.Clock

	// TLSConfig is cloned per connection; ServerName is always set to the
	// identity host. Nil uses system roots.
	TLSConfig *tls.Config
}

// NewSMTPTransport creates an SMTP transport.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &SMTPTransport{
		dialTimeout: timeout,
		tokens:      cfg.Tokens,
		tlsConfig:   cfg.TLSConfig,
		clock:       clk,
	}
}

// Send connects, authenticates and transmits msg.
func (t *SMTPTransport) Send(ctx context.Context, ident *models.MailIdentity, msg Outgoing) error {
	if msg.To == "" {
		return errors.New("no recipient address")
	}

	body, err := BuildMessage(ident, msg, t.clock.Now())
	if err != nil {
		return err
	}

	client, err := t.dial(ctx, ident)
	if err != nil {
		return err
	}
	defer client.Close()

	if ident.Port != ImplicitTLSPort && ident.UseTLS {
		if err := client.StartTLS(t.tlsFor(ident.Host)); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	auth, err := t.auth(ident)
	if err != nil {
		return err
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(ident.FromEmail); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	return client.Quit()
}

func (t *SMTPTransport) dial(ctx context.Context, ident *models.MailIdentity) (*smtp.Client, error) {
	addr := net.JoinHostPort(ident.Host, strconv.Itoa(ident.Port))

	dialer := &net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if ident.Port == ImplicitTLSPort {
		tlsConn := tls.Client(conn, t.tlsFor(ident.Host))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, ident.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp greeting %s: %w", addr, err)
	}
	return client, nil
}

func (t *SMTPTransport) tlsFor(host string) *tls.Config {
	cfg := &tls.Config{}
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	}
	cfg.ServerName = host
	return cfg
}

func (t *SMTPTransport) auth(ident *models.MailIdentity) (smtp.Auth, error) {
	switch ident.AuthMethod {
	case models.AuthXOAuth2:
		if t.tokens == nil {
			return nil, fmt.Errorf("identity %d uses XOAUTH2 but no token cache is configured", ident.ID)
		}
		token, err := t.tokens.AccessToken(ident)
		if err != nil {
			return nil, err
		}
		return &xoauth2Auth{username: ident.Username, token: token}, nil
	default:
		if ident.Username == "" {
			return nil, nil
		}
		if ident.UseTLS || ident.Port == ImplicitTLSPort {
			return smtp.PlainAuth("", ident.Username, ident.Password, ident.Host), nil
		}
		// smtp.PlainAuth refuses unencrypted connections to anything but
		// localhost; identities without TLS are sent in the clear as stored.
		return &plainAuth{username: ident.Username, password: ident.Password}, nil
	}
}

// plainAuth implements SASL PLAIN without a transport security check.
type plainAuth struct {
	username string
	password string
}

func (a *plainAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.username + "\x00" + a.password), nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("unexpected server challenge during PLAIN auth")
	}
	return nil, nil
}

// xoauth2Auth implements the SASL XOAUTH2 mechanism.
type xoauth2Auth struct {
	username string
	token    string
}

func (a *xoauth2Auth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	resp := "user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2Auth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		// The server sent a JSON error challenge; an empty reply ends the exchange.
		return []byte{}, nil
	}
	return nil, nil
}
