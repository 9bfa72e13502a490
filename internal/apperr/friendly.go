package apperr

import (
	"errors"
	"strings"
)

const (
	MsgDefault         = "Something went wrong. Please try again in a moment."
	MsgSignIn          = "You need to sign in first."
	MsgNetwork         = "Please check your connection. The request could not be completed."
	MsgTimeout         = "The request timed out. Please try again in a moment."
	MsgUpload          = "The image upload failed. Check the file and try again."
	MsgNotPermitted    = "You are not permitted to do that. Check that you are signed in."
	MsgNotFound        = "We could not find what you were looking for."
	MsgAlreadyHandled  = "That request was already handled."
	MsgTaken           = "That name is already taken."
	validationFallback = "The input is invalid."
)

var keywordMessages = []struct {
	keywords []string
	message  string
}{
	{[]string{"not authenticated"}, MsgSignIn},
	{[]string{"network", "connection refused", "unavailable"}, MsgNetwork},
	{[]string{"timeout", "deadline exceeded"}, MsgTimeout},
	{[]string{"storage", "upload"}, MsgUpload},
	{[]string{"row-level security", "permission denied", "not permitted"}, MsgNotPermitted},
	{[]string{"not found"}, MsgNotFound},
	{[]string{"already taken"}, MsgTaken},
	{[]string{"duplicate", "unique constraint"}, MsgAlreadyHandled},
}

// Friendly turns err into a message safe to show a user. Validation
// errors carry their own text; everything else goes through a fixed
// keyword table.
func Friendly(err error) string {
	if err == nil {
		return MsgDefault
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindValidation:
			if e.Err != nil {
				return e.Err.Error()
			}
			return validationFallback
		case KindUnauthorized:
			return MsgSignIn
		case KindForbidden:
			return MsgNotPermitted
		case KindNotFound:
			return MsgNotFound
		}
	}

	msg := strings.ToLower(err.Error())
	for _, km := range keywordMessages {
		for _, kw := range km.keywords {
			if strings.Contains(msg, kw) {
				return km.message
			}
		}
	}
	return MsgDefault
}
