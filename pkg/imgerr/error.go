package imgerr

import (
	"errors"
	"fmt"
)

// Kind classifies every failure returned by the image packages.
type Kind int

const (
	Unknown Kind = iota
	Configuration
	Authentication
	AlreadyExists
	NotFound
	Upload
	TransferNotVisible
	Create
	Copy
	Publish
	Deprecate
	Activate
	Delete
	BrokenState
	UnexpectedDeprecated
	UnknownState
	Timeout
	Region
	KeyPair
)

var kindNames = map[Kind]string{
	Unknown:              "Error",
	Configuration:        "ConfigurationError",
	Authentication:       "AuthenticationError",
	AlreadyExists:        "AlreadyExistsError",
	NotFound:             "NotFoundError",
	Upload:               "UploadError",
	TransferNotVisible:   "TransferNotVisibleError",
	Create:               "CreateError",
	Copy:                 "CopyError",
	Publish:              "PublishError",
	Deprecate:            "DeprecateError",
	Activate:             "ActivateError",
	Delete:               "DeleteError",
	BrokenState:          "BrokenStateError",
	UnexpectedDeprecated: "UnexpectedDeprecatedError",
	UnknownState:         "UnknownStateError",
	Timeout:              "TimeoutError",
	Region:               "RegionError",
	KeyPair:              "KeyPairError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a failure of a known kind, optionally wrapping the provider error
// that caused it.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return e.Kind.String()
	case e.Message == "":
		return e.Err.Error()
	case e.Err == nil:
		return e.Message
	default:
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: NotFound})
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// New returns an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping err. It returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// HasKind reports whether any *Error in the chain has the given kind.
func HasKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

func IsConfiguration(err error) bool { return HasKind(err, Configuration) }

func IsAuthentication(err error) bool { return HasKind(err, Authentication) }

func IsAlreadyExists(err error) bool { return HasKind(err, AlreadyExists) }

func IsNotFound(err error) bool { return HasKind(err, NotFound) }

func IsTimeout(err error) bool { return HasKind(err, Timeout) }

func IsBrokenState(err error) bool { return HasKind(err, BrokenState) }

func IsUnexpectedDeprecated(err error) bool { return HasKind(err, UnexpectedDeprecated) }

func IsUnknownState(err error) bool { return HasKind(err, UnknownState) }
