package protocol

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultExtension is used for evidence files without an extension.
const defaultExtension = "bin"

// Evidence is an artifact attached to an apontamento. Content is base64 on the wire.
type Evidence struct {
	Nome       string `json:"nome"`
	Extensao   string `json:"extensao"`
	Conteudo   string `json:"conteudo"`
	Descricao  string `json:"descricao,omitempty"`
	Observacao string `json:"observacao,omitempty"`
}

// NewEvidence builds evidence from raw bytes.
func NewEvidence(nome, extensao string, content []byte, descricao string) (Evidence, error) {
	nome = strings.TrimSpace(nome)
	if nome == "" {
		return Evidence{}, fmt.Errorf("%w: evidence name is empty", ErrInvalidArgument)
	}
	ext := normaliseExtension(extensao)
	if ext == "" {
		ext = defaultExtension
	}
	return Evidence{
		Nome:      nome,
		Extensao:  ext,
		Conteudo:  base64.StdEncoding.EncodeToString(content),
		Descricao: strings.TrimSpace(descricao),
	}, nil
}

// TextEvidence builds evidence from UTF-8 text.
func TextEvidence(nome, extensao, texto, descricao string) (Evidence, error) {
	return NewEvidence(nome, extensao, []byte(texto), descricao)
}

// EvidenceFromFile reads path and names the evidence after the file.
//
//	ev, err := protocol.EvidenceFromFile("/var/log/teste.txt", "Log de teste")
//	// ev.Nome == "teste", ev.Extensao == "txt"
func EvidenceFromFile(path, descricao string) (Evidence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Evidence{}, fmt.Errorf("reading evidence file: %w", err)
	}
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return NewEvidence(strings.TrimSuffix(base, ext), ext, data, descricao)
}

// WithObservacao returns a copy carrying an observation note.
func (e Evidence) WithObservacao(observacao string) Evidence {
	e.Observacao = strings.TrimSpace(observacao)
	return e
}

// Content decodes the base64 payload.
func (e Evidence) Content() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.Conteudo)
	if err != nil {
		return nil, fmt.Errorf("%w: evidence content is not base64: %w", ErrInvalidArgument, err)
	}
	return data, nil
}

// Validate checks the fields the backend requires.
func (e Evidence) Validate() error {
	if strings.TrimSpace(e.Nome) == "" {
		return fmt.Errorf("%w: evidence name is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(e.Extensao) == "" {
		return fmt.Errorf("%w: evidence extension is empty", ErrInvalidArgument)
	}
	if _, err := e.Content(); err != nil {
		return err
	}
	return nil
}

// normaliseExtension strips the leading dot and lower-cases the extension.
func normaliseExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
