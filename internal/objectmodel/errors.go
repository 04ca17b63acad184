package objectmodel

import "fmt"

// Kind enumerates the error taxonomy from the error handling design:
// these are kinds, not distinct Go types, so callers can dispatch with a
// single switch instead of chained type assertions.
type Kind uint8

const (
	// KindNone is the zero value: what KindOf reports for a nil error or
	// one that carries no *Error.
	KindNone Kind = iota
	KindNotFound
	KindUnavailable
	KindTimeout
	KindNoRedundancy
	KindNotSatisfyQuorum
	KindRecoverFailure
	KindReplicateFailure
	KindInvalidData
	KindLockedContainer
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindUnavailable:
		return "Unavailable"
	case KindTimeout:
		return "Timeout"
	case KindNoRedundancy:
		return "NoRedundancy"
	case KindNotSatisfyQuorum:
		return "NotSatisfyQuorum"
	case KindRecoverFailure:
		return "RecoverFailure"
	case KindReplicateFailure:
		return "ReplicateFailure"
	case KindInvalidData:
		return "InvalidData"
	case KindLockedContainer:
		return "LockedContainer"
	default:
		return "None"
	}
}

// Error wraps a Kind with the node that produced it (if any) and the
// underlying cause, matching the peer-side {Err, node, cause} wrapping
// from the error handling design.
type Error struct {
	Kind  Kind
	Node  string
	Cause error
}

func (e *Error) Error() string {
	if e.Node != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s (node=%s): %v", e.Kind, e.Node, e.Cause)
		}
		return fmt.Sprintf("%s (node=%s)", e.Kind, e.Node)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, objectmodel.ErrNotFound) work against a *Error by
// comparing Kind, ignoring Node/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind with no node attribution.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// FromNode builds an *Error attributed to a peer node.
func FromNode(kind Kind, node string, cause error) *Error {
	return &Error{Kind: kind, Node: node, Cause: cause}
}

// KindOf extracts the Kind from err, returning KindNone if err is nil or
// not an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return KindNone
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Sentinel *Error values for errors.Is comparisons where no node/cause
// attribution is needed.
var (
	ErrNotFound         = New(KindNotFound, nil)
	ErrUnavailable      = New(KindUnavailable, nil)
	ErrTimeout          = New(KindTimeout, nil)
	ErrNoRedundancy     = New(KindNoRedundancy, nil)
	ErrNotSatisfyQuorum = New(KindNotSatisfyQuorum, nil)
	ErrRecoverFailure   = New(KindRecoverFailure, nil)
	ErrReplicateFailure = New(KindReplicateFailure, nil)
	ErrInvalidData      = New(KindInvalidData, nil)
	ErrLockedContainer  = New(KindLockedContainer, nil)
)
