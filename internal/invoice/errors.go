package invoice

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("invoice: not found")
	ErrInvalidArgument    = errors.New("invoice: invalid argument")
	ErrDuplicateMessageID = errors.New("invoice: duplicate message id")

	ErrDefinitiveState   = errors.New("invoice: definitive state")
	ErrForbidden         = errors.New("invoice: forbidden")
	ErrInvalidState      = errors.New("invoice: invalid state for action")
	ErrMissingAttachment = errors.New("invoice: missing secondary attachment")
	ErrEmptyFile         = errors.New("invoice: empty file")
	ErrNoDestination     = errors.New("invoice: no destination address")
)

// User-facing messages for rejected actions.
const (
	MsgDefinitiveState   = "La factura ya está cerrada/enviada y no se puede modificar."
	MsgForbidden         = "No tiene permisos para realizar esta acción."
	MsgMissingAttachment = "Debe subir un adjunto antes de enviar la factura."
	MsgEmptyFile         = "Debe seleccionar un archivo."
	MsgNoDestination     = "Factura sin aseguradora o sin email de aseguradora."
	MsgNotFound          = "Factura no encontrada."
	MsgInsurerNotFound   = "Aseguradora no encontrada."
)

// ActionError is a rejected lifecycle operation. Message can be shown to the
// user verbatim; Err is one of the sentinel errors of this package.
type ActionError struct {
	Err     error
	Message string
}

func (e *ActionError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Reject builds an ActionError.
func Reject(err error, message string) error {
	return &ActionError{Err: err, Message: message}
}

// UserMessage returns the displayable message carried by err, or fallback.
func UserMessage(err error, fallback string) string {
	var ae *ActionError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return fallback
}
