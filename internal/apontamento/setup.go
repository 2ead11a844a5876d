package apontamento

import (
	"fmt"
	"strings"

	"github.com/nerrad567/cmcontrol-device/internal/protocol"
)

// NewSerialSetup builds the setup that checks in one serial.
func NewSerialSetup(device, serial string, evidencias ...protocol.Evidence) (protocol.Setup, error) {
	codigo, err := cleanSerial(serial)
	if err != nil {
		return protocol.Setup{}, err
	}
	return protocol.Setup{
		EnderecoDispositivo: device,
		Apontamentos:        []protocol.Apontamento{protocol.SerialApontamento(codigo, evidencias...)},
	}, nil
}

// NewVinculoSetup builds the setup that links several serials in one apontamento.
func NewVinculoSetup(device string, seriais []string, evidencias ...protocol.Evidence) (protocol.Setup, error) {
	if len(seriais) < 2 {
		return protocol.Setup{}, fmt.Errorf("%w: vinculo needs at least two serials, got %d", protocol.ErrInvalidArgument, len(seriais))
	}
	codigos := make([]string, 0, len(seriais))
	for _, s := range seriais {
		codigo, err := cleanSerial(s)
		if err != nil {
			return protocol.Setup{}, err
		}
		codigos = append(codigos, codigo)
	}
	return protocol.Setup{
		EnderecoDispositivo: device,
		Apontamentos:        []protocol.Apontamento{protocol.LinkedApontamento(codigos, evidencias...)},
	}, nil
}

// NewValidarRotaSetup builds the read-only route validation for a serial.
func NewValidarRotaSetup(device, serial string) (protocol.Setup, error) {
	setup, err := NewSerialSetup(device, serial)
	if err != nil {
		return protocol.Setup{}, err
	}
	setup.Ciclo = protocol.CicloValidarRota
	return setup, nil
}

// NewOrdemTransporteSetup builds a transport order setup. acao defaults to
// APONTAR_TRANSPORTE.
func NewOrdemTransporteSetup(device, codigo, acao string, apontamentos ...protocol.Apontamento) (protocol.Setup, error) {
	codigo = strings.TrimSpace(codigo)
	if codigo == "" {
		return protocol.Setup{}, fmt.Errorf("%w: ordem de transporte code is empty", protocol.ErrInvalidArgument)
	}
	switch acao = strings.ToUpper(strings.TrimSpace(acao)); acao {
	case "":
		acao = protocol.AcaoApontarTransporte
	case protocol.AcaoApontarTransporte, protocol.AcaoAdicionarTransporte:
	default:
		return protocol.Setup{}, fmt.Errorf("%w: unknown ordem de transporte action %q", protocol.ErrInvalidArgument, acao)
	}
	if apontamentos == nil {
		apontamentos = []protocol.Apontamento{}
	}
	return protocol.Setup{
		EnderecoDispositivo: device,
		OrdemTransporte:     &protocol.OrdemTransporte{Codigo: codigo, Acao: acao},
		Apontamentos:        apontamentos,
	}, nil
}

// Envelope wraps setup in the REST proxy POST envelope.
func Envelope(bearer string, setup protocol.Setup) protocol.RESTEnvelope {
	return protocol.RESTEnvelope{
		Request: protocol.RESTRequest{
			Headers: map[string]string{
				protocol.HeaderAuthorization: protocol.BearerAuthorization(bearer),
				protocol.HeaderContentType:   protocol.ContentTypeForm,
			},
			Type: protocol.MethodPost,
		},
		Data: setup,
	}
}

func cleanSerial(serial string) (string, error) {
	codigo := strings.TrimSpace(serial)
	if codigo == "" {
		return "", fmt.Errorf("%w: serial is empty", protocol.ErrInvalidArgument)
	}
	return codigo, nil
}

// serialsOf lists the serial codes of setup, comma separated.
func serialsOf(setup protocol.Setup) string {
	var codigos []string
	for _, ap := range setup.Apontamentos {
		for _, s := range ap.Seriais {
			codigos = append(codigos, s.Codigo)
		}
	}
	return strings.Join(codigos, ",")
}
