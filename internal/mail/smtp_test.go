package mail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayResult struct {
	tls      bool
	authed   bool
	mailFrom string
	rcptTo   string
	data     []byte
	err      error
}

// startRelay serves one SMTP session on a loopback port. It advertises
// STARTTLS in plaintext and AUTH only once the channel is encrypted.
func startRelay(t *testing.T, cert tls.Certificate) (int, <-chan relayResult) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan relayResult, 1)
	go func() {
		var res relayResult
		defer func() { done <- res }()

		conn, err := ln.Accept()
		if err != nil {
			res.err = err
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 relay.test ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				res.err = err
				return
			}
			verb, _, _ := strings.Cut(line, " ")
			switch strings.ToUpper(verb) {
			case "EHLO":
				_ = tp.PrintfLine("250-relay.test")
				if res.tls {
					_ = tp.PrintfLine("250 AUTH PLAIN")
				} else {
					_ = tp.PrintfLine("250 STARTTLS")
				}
			case "STARTTLS":
				_ = tp.PrintfLine("220 ready to start TLS")
				tc := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{cert}})
				if err := tc.Handshake(); err != nil {
					res.err = err
					return
				}
				tp = textproto.NewConn(tc)
				res.tls = true
			case "AUTH":
				res.authed = res.tls
				_ = tp.PrintfLine("235 2.7.0 authenticated")
			case "MAIL":
				res.mailFrom = line
				_ = tp.PrintfLine("250 ok")
			case "RCPT":
				res.rcptTo = line
				_ = tp.PrintfLine("250 ok")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				res.data, err = tp.ReadDotBytes()
				if err != nil {
					res.err = err
					return
				}
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 not implemented")
			}
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port, done
}

// relayCert borrows the loopback certificate httptest issues for 127.0.0.1.
func relayCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	return srv.TLS.Certificates[0], pool
}

func TestSMTPSenderUpgradesWithSTARTTLS(t *testing.T) {
	cert, roots := relayCert(t)
	port, done := startRelay(t, cert)

	s := &SMTPSender{
		Host:      "127.0.0.1",
		Port:      port,
		From:      "tickets@evento.local",
		Auth:      smtp.PlainAuth("", "mailer", "secret", "127.0.0.1"),
		Now:       time.Now,
		TLSConfig: &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Send(ctx, Message{To: "ada@example.com", Subject: "Your ticket", Body: "See attachment."})
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.tls)
	assert.True(t, res.authed)
	assert.Contains(t, res.mailFrom, "<tickets@evento.local>")
	assert.Contains(t, res.rcptTo, "<ada@example.com>")
	assert.Contains(t, string(res.data), "Subject: Your ticket")
}

func TestSMTPSenderVerifiesRelayCertificate(t *testing.T) {
	cert, _ := relayCert(t)
	port, done := startRelay(t, cert)

	s := &SMTPSender{Host: "127.0.0.1", Port: port, From: "tickets@evento.local", Now: time.Now}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Send(ctx, Message{To: "ada@example.com", Subject: "Your ticket"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp starttls")
	assert.Contains(t, err.Error(), "certificate")

	res := <-done
	assert.False(t, res.tls)
}

func TestSMTPSenderTLSConfigDefaultsServerName(t *testing.T) {
	s := &SMTPSender{Host: "smtp.example.com"}
	cfg := s.tlsConfig()
	assert.Equal(t, "smtp.example.com", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	base := &tls.Config{}
	s.TLSConfig = base
	assert.Equal(t, "smtp.example.com", s.tlsConfig().ServerName)
	assert.Empty(t, base.ServerName)
}
