// Package apperr defines the error kinds the map service can surface.
// Clients return these wrapped, the API layer maps them to HTTP statuses,
// and the viewer turns them into a one-line status message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindPlaceNotFound: the geocoder had no usable result.
	KindPlaceNotFound
	// KindImageDecode: the map server body was not an image.
	KindImageDecode
	// KindUpstream: a remote call failed at the transport level.
	KindUpstream
	// KindValidation: the caller sent something unusable.
	KindValidation
	// KindNoImage: nothing has been rendered yet.
	KindNoImage
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindPlaceNotFound: "place_not_found",
	KindImageDecode:   "image_decode",
	KindUpstream:      "upstream",
	KindValidation:    "validation",
	KindNoImage:       "no_image",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Error is a typed failure with an optional operation and cause.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so wrapped errors compare equal
// to the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the status code the API answers with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindPlaceNotFound, KindNoImage:
		return http.StatusNotFound
	case KindImageDecode:
		return http.StatusBadGateway
	case KindUpstream:
		return http.StatusServiceUnavailable
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is.
var (
	ErrPlaceNotFound = &Error{Kind: KindPlaceNotFound, Message: "place not found"}
	ErrImageDecode   = &Error{Kind: KindImageDecode, Message: "map response is not an image"}
	ErrUpstream      = &Error{Kind: KindUpstream, Message: "upstream request failed"}
	ErrValidation    = &Error{Kind: KindValidation, Message: "invalid request"}
	ErrNoImage       = &Error{Kind: KindNoImage, Message: "no map rendered yet"}
)

// Wrap creates an error of the given kind around err.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusMessage is the short line shown to the user for err, or "" for nil.
func StatusMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindPlaceNotFound:
		return "Object not found!"
	case KindImageDecode:
		return "Map API error!"
	case KindUpstream:
		return "Map service unavailable"
	case KindValidation:
		return "Invalid input"
	case KindNoImage:
		return "Nothing to show yet"
	default:
		return "Unexpected error"
	}
}
