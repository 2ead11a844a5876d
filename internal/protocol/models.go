package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Ciclo values accepted by setup.apontamento.
const (
	// CicloValidarRota asks the backend to validate the serial's route without checking it in.
	CicloValidarRota = "VALIDAR_ROTA"
)

// OrdemTransporte actions.
const (
	AcaoApontarTransporte   = "APONTAR_TRANSPORTE"
	AcaoAdicionarTransporte = "ADICIONAR_TRANSPORTE"
)

// Serial identifies one produced item.
type Serial struct {
	Codigo string `json:"codigo"`
}

// Apontamento is one check-in record. A single serial is the normal case;
// several serials in one Apontamento link them together (vinculação) and
// must not be used as a batch.
type Apontamento struct {
	OK         bool       `json:"ok"`
	Seriais    []Serial   `json:"seriais,omitempty"`
	Evidencias []Evidence `json:"evidencias,omitempty"`
}

// OrdemTransporte references a transport order.
type OrdemTransporte struct {
	Codigo string `json:"codigo"`
	Acao   string `json:"acao"`
}

// Setup is the body of setup.apontamento.
type Setup struct {
	EnderecoDispositivo string           `json:"enderecoDispositivo"`
	Ciclo               string           `json:"ciclo,omitempty"`
	OrdemTransporte     *OrdemTransporte `json:"ordemTransporte,omitempty"`
	Apontamentos        []Apontamento    `json:"apontamentos"`
}

// SerialApontamento builds an ok apontamento for a single serial.
func SerialApontamento(codigo string, evidencias ...Evidence) Apontamento {
	return Apontamento{
		OK:         true,
		Seriais:    []Serial{{Codigo: codigo}},
		Evidencias: evidencias,
	}
}

// LinkedApontamento builds an ok apontamento that links several serials.
func LinkedApontamento(codigos []string, evidencias ...Evidence) Apontamento {
	seriais := make([]Serial, 0, len(codigos))
	for _, c := range codigos {
		seriais = append(seriais, Serial{Codigo: c})
	}
	return Apontamento{
		OK:         true,
		Seriais:    seriais,
		Evidencias: evidencias,
	}
}

// MarshalJSON always emits "apontamentos" as an array, the backend rejects null.
func (s Setup) MarshalJSON() ([]byte, error) {
	type plain Setup
	if s.Apontamentos == nil {
		s.Apontamentos = []Apontamento{}
	}
	return json.Marshal(plain(s))
}

// Validate checks the setup before it goes on the wire.
func (s Setup) Validate() error {
	if strings.TrimSpace(s.EnderecoDispositivo) == "" {
		return fmt.Errorf("%w: enderecoDispositivo is required", ErrInvalidArgument)
	}
	if len(s.Apontamentos) == 0 && s.OrdemTransporte == nil {
		return fmt.Errorf("%w: setup needs apontamentos or an ordemTransporte", ErrInvalidArgument)
	}
	if s.OrdemTransporte != nil && strings.TrimSpace(s.OrdemTransporte.Codigo) == "" {
		return fmt.Errorf("%w: ordemTransporte.codigo is required", ErrInvalidArgument)
	}
	for i, ap := range s.Apontamentos {
		for j, serial := range ap.Seriais {
			if strings.TrimSpace(serial.Codigo) == "" {
				return fmt.Errorf("%w: apontamentos[%d].seriais[%d].codigo is empty", ErrInvalidArgument, i, j)
			}
		}
		for j, ev := range ap.Evidencias {
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("apontamentos[%d].evidencias[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}
