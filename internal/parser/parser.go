package parser

import "fmt"

// Parser turns a raw job payload into normalized text. SupportedTypes
// describes the content types a variant can handle; the worker sends them
// with every lease request so the queue only hands it matching jobs.
//
// New payload formats are added as new variants; the worker loop never
// needs to change for them.
type Parser interface {
	Parse(raw []byte) (string, error)
	SupportedTypes() []string
}

// Worker type identifiers, selected via WORKER_TYPE.
const (
	TypePlainText = "plaintext"
)

// New resolves a parser variant by its worker type identifier. The set of
// variants is closed and resolved once at startup; an unknown identifier is
// a configuration error.
func New(workerType string) (Parser, error) {
	switch workerType {
	case TypePlainText, "":
		return PlainText{}, nil
	default:
		return nil, fmt.Errorf("unknown worker type: %q", workerType)
	}
}
