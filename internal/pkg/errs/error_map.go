/*
Package errs provides custom error types and application-level error code constants.

This file maps every code to its CustomError template (client message and HTTP status).
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnsupportedEvent:     {Code: ErrUnsupportedEvent, Message: "Unsupported event: %s."},

	// 2xxx: Room and Message Errors
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Chat room not found.", Status: http.StatusNotFound},
	ErrMalformedMessage:      {Code: ErrMalformedMessage, Message: "Malformed message: %s.", Status: http.StatusBadRequest},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrRecipientNotFound:     {Code: ErrRecipientNotFound, Message: "Recipient not found.", Status: http.StatusNotFound},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large.", Status: http.StatusBadRequest},
	ErrFileTypeInvalid:       {Code: ErrFileTypeInvalid, Message: "Only JPEG, PNG, WEBP and GIF images are allowed.", Status: http.StatusBadRequest},

	// 3xxx: Identity and Session Errors
	ErrUnauthenticated: {Code: ErrUnauthenticated, Message: "Authentication required.", Status: http.StatusUnauthorized},
	ErrNicknameTaken:   {Code: ErrNicknameTaken, Message: "Nickname already taken.", Status: http.StatusConflict},
	ErrInvalidNickname: {Code: ErrInvalidNickname, Message: "Nickname must be 2-20 letters, digits, '_' or '-'.", Status: http.StatusBadRequest},
	ErrInvalidGender:   {Code: ErrInvalidGender, Message: "Gender must be male, female or couple.", Status: http.StatusBadRequest},
	ErrSessionKicked:   {Code: ErrSessionKicked, Message: "You were signed in on another device."},
	ErrUserNotFound:    {Code: ErrUserNotFound, Message: "User not found.", Status: http.StatusNotFound},
	ErrForbidden:       {Code: ErrForbidden, Message: "You are not allowed to do that.", Status: http.StatusForbidden},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrPersistenceFailure: {Code: ErrPersistenceFailure, Message: "Failed to save your changes. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed:  {Code: ErrFileStorageFailed, Message: "File storage is unavailable. Please try again.", Status: http.StatusServiceUnavailable},
}
