package shouter

import (
	"strconv"

	"emperror.dev/errors"
)

const (
	AttrPostStatusURL   = "postStatusUrl"
	AttrPostStatusToken = "postStatusToken"
	AttrDeadline        = "deadline"
)

// ErrBadAttributes marks a message whose attributes cannot be used. There
// is no validated callback destination in this case, so the message is
// consumed without any report.
var ErrBadAttributes = errors.NewPlain("Bad shout request message attributes")

// RequestAttributes is the parsed form of the message attributes.
// Deadline is an absolute Unix time in seconds.
type RequestAttributes struct {
	PostStatusURL   string
	PostStatusToken string
	Deadline        int64
}

// ParseRequestAttributes validates the message attributes as a whole:
// a missing or malformed field fails the parse, never a partial result.
func ParseRequestAttributes(attrs map[string]string) (RequestAttributes, error) {
	reqAttrs := RequestAttributes{}
	var has bool
	if reqAttrs.PostStatusURL, has = attrs[AttrPostStatusURL]; !has {
		return RequestAttributes{}, errors.WithDetails(ErrBadAttributes, "missing", AttrPostStatusURL)
	}
	if reqAttrs.PostStatusToken, has = attrs[AttrPostStatusToken]; !has {
		return RequestAttributes{}, errors.WithDetails(ErrBadAttributes, "missing", AttrPostStatusToken)
	}
	deadline, has := attrs[AttrDeadline]
	if !has {
		return RequestAttributes{}, errors.WithDetails(ErrBadAttributes, "missing", AttrDeadline)
	}
	var err error
	if reqAttrs.Deadline, err = strconv.ParseInt(deadline, 10, 64); err != nil {
		return RequestAttributes{}, errors.WithDetails(ErrBadAttributes, AttrDeadline, deadline)
	}

	return reqAttrs, nil
}

// Expired reports whether the request deadline has passed at the given
// wall-clock time.
func Expired(deadlineUnixSeconds int64, now int64) bool {
	return now >= deadlineUnixSeconds
}
