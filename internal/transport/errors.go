package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/mqtt"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// classify maps a dial/handshake failure onto the protocol taxonomy.
// The original error stays in the chain.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return protocol.ConnectionError(kindOf(err), err)
}

func kindOf(err error) error {
	switch {
	case errors.Is(err, mqtt.ErrConnectTimeout), errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrConnectTimeout
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return protocol.ErrBrokerAuth
	case errors.Is(err, mqtt.ErrTLSConfig), isTLSError(err):
		return protocol.ErrTLS
	case errors.Is(err, mqtt.ErrNotConnected):
		return protocol.ErrNotConnected
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return protocol.ErrDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.ErrConnectTimeout
	}
	return protocol.ErrConnection
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &verifyErr), errors.As(err, &recordErr), errors.As(err, &alertErr),
		errors.As(err, &unknownCA), errors.As(err, &hostnameErr), errors.As(err, &invalidCert):
		return true
	}
	// Some handshake failures only surface as text.
	msg := err.Error()
	return strings.Contains(msg, "tls: ") || strings.Contains(msg, "x509: ")
}
