package jcrmi

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/gregLibert/cardsec/pkg/fault"
	"github.com/gregLibert/cardsec/pkg/iso7816"
)

// ErrConnectionClosed is returned when a connection, or a reference obtained
// from it, is used after Close. Re-open the connection to continue.
var ErrConnectionClosed = &fault.Error{Kind: fault.KindTransport, Op: "jcrmi", Err: errors.New("connection closed")}

// ErrorDetail is the code of a 0x99 error response.
type ErrorDetail uint16

const (
	DetailObjectNotExported      ErrorDetail = 0x0001
	DetailMethodNotFound         ErrorDetail = 0x0002
	DetailSignatureMismatch      ErrorDetail = 0x0003
	DetailOutOfParamResources    ErrorDetail = 0x0004
	DetailOutOfResponseResources ErrorDetail = 0x0005
	DetailProtocolError          ErrorDetail = 0x0006
)

func (d ErrorDetail) String() string {
	switch d {
	case DetailObjectNotExported:
		return "object not exported"
	case DetailMethodNotFound:
		return "method not found"
	case DetailSignatureMismatch:
		return "signature mismatch"
	case DetailOutOfParamResources:
		return "out of parameter resources"
	case DetailOutOfResponseResources:
		return "out of response resources"
	case DetailProtocolError:
		return "card reported protocol error"
	default:
		return fmt.Sprintf("ErrorDetail(%04X)", uint16(d))
	}
}

// ProtocolError is an unexpected answer from the card. After a ProtocolError
// the connection must be re-opened.
type ProtocolError struct {
	// Status is set when the card answered with a non-success status word.
	Status iso7816.StatusWord
	// Detail is set for 0x99 error responses.
	Detail ErrorDetail
	// Msg describes structural violations.
	Msg string
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Detail != 0:
		return fmt.Sprintf("jcrmi: protocol error: %s", e.Detail)
	case e.Status != 0:
		return "jcrmi: protocol error: status " + e.Status.Verbose()
	default:
		return "jcrmi: protocol error: " + e.Msg
	}
}

// FaultKind classifies the error for fault.KindOf.
func (e *ProtocolError) FaultKind() fault.Kind {
	return fault.KindProtocol
}

// Is matches fault.ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == fault.ErrProtocol
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// ExceptionKind is the Java Card exception class thrown by the card.
type ExceptionKind byte

const (
	Throwable                      ExceptionKind = 0x00
	ArithmeticException            ExceptionKind = 0x01
	ArrayIndexOutOfBoundsException ExceptionKind = 0x02
	ArrayStoreException            ExceptionKind = 0x03
	ClassCastException             ExceptionKind = 0x04
	Exception                      ExceptionKind = 0x05
	IndexOutOfBoundsException      ExceptionKind = 0x06
	NegativeArraySizeException     ExceptionKind = 0x07
	NullPointerException           ExceptionKind = 0x08
	RuntimeException               ExceptionKind = 0x09
	SecurityException              ExceptionKind = 0x0A
	IOException                    ExceptionKind = 0x0B
	RMIRemoteException             ExceptionKind = 0x0C
	APDUException                  ExceptionKind = 0x20
	CardException                  ExceptionKind = 0x21
	CardRuntimeException           ExceptionKind = 0x22
	ISOException                   ExceptionKind = 0x23
	PINException                   ExceptionKind = 0x24
	SystemException                ExceptionKind = 0x25
	TransactionException           ExceptionKind = 0x26
	UserException                  ExceptionKind = 0x27
	CryptoException                ExceptionKind = 0x30
	ServiceException               ExceptionKind = 0x40
)

var exceptionNames = map[ExceptionKind]string{
	Throwable:                      "java.lang.Throwable",
	ArithmeticException:            "java.lang.ArithmeticException",
	ArrayIndexOutOfBoundsException: "java.lang.ArrayIndexOutOfBoundsException",
	ArrayStoreException:            "java.lang.ArrayStoreException",
	ClassCastException:             "java.lang.ClassCastException",
	Exception:                      "java.lang.Exception",
	IndexOutOfBoundsException:      "java.lang.IndexOutOfBoundsException",
	NegativeArraySizeException:     "java.lang.NegativeArraySizeException",
	NullPointerException:           "java.lang.NullPointerException",
	RuntimeException:               "java.lang.RuntimeException",
	SecurityException:              "java.lang.SecurityException",
	IOException:                    "java.io.IOException",
	RMIRemoteException:             "java.rmi.RemoteException",
	APDUException:                  "javacard.framework.APDUException",
	CardException:                  "javacard.framework.CardException",
	CardRuntimeException:           "javacard.framework.CardRuntimeException",
	ISOException:                   "javacard.framework.ISOException",
	PINException:                   "javacard.framework.PINException",
	SystemException:                "javacard.framework.SystemException",
	TransactionException:           "javacard.framework.TransactionException",
	UserException:                  "javacard.framework.UserException",
	CryptoException:                "javacard.security.CryptoException",
	ServiceException:               "javacard.framework.service.ServiceException",
}

func (k ExceptionKind) String() string {
	if name, ok := exceptionNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ExceptionKind(%02X)", byte(k))
}

// RemoteException is an exception thrown by the remote method. The
// connection stays usable.
type RemoteException struct {
	Kind ExceptionKind
	// Subclass is set when the card threw a subclass of Kind (tag 0x83).
	Subclass bool
	Reason   uint16
}

func (e *RemoteException) Error() string {
	sub := ""
	if e.Subclass {
		sub = " (subclass)"
	}
	return fmt.Sprintf("jcrmi: remote %s%s, reason %04X", e.Kind, sub, e.Reason)
}

// FaultKind classifies the error for fault.KindOf.
func (e *RemoteException) FaultKind() fault.Kind {
	return fault.KindRemote
}

// Is matches fault.ErrRemote.
func (e *RemoteException) Is(target error) bool {
	return target == fault.ErrRemote
}

func newRemoteException(tag, code byte, reason uint16) (*RemoteException, error) {
	k := ExceptionKind(code)
	if _, ok := exceptionNames[k]; !ok {
		return nil, protocolErrorf("unknown exception type %02X", code)
	}
	return &RemoteException{Kind: k, Subclass: tag == tagExceptionSubclass, Reason: reason}, nil
}
