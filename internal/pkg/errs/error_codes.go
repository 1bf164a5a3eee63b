/*
Package errs provides custom error types and application-level error code constants.

The codes identify business and system failures both inside the server and on
the wire: HTTP responses carry them in the JSON body and websocket clients
receive them in "error" events.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request or event body is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates that a websocket client sent an unknown event name.
	ErrUnsupportedEvent = 1008
)

// 2xxx: Room and Message Errors
const (
	// ErrRoomNotFound indicates that the room is not one of the configured rooms.
	ErrRoomNotFound = 2103

	// ErrMalformedMessage indicates a send_message payload that violates the
	// room XOR recipient rule or the message schema.
	ErrMalformedMessage = 2201

	// ErrMessageContentTooLong indicates that message content exceeded the maximum length.
	ErrMessageContentTooLong = 2202

	// ErrRecipientNotFound indicates a private message addressed to an unknown identity.
	ErrRecipientNotFound = 2203

	// ErrFileSizeTooLarge indicates an image upload larger than the allowed size.
	ErrFileSizeTooLarge = 2301

	// ErrFileTypeInvalid indicates an image upload with a disallowed name or MIME type.
	ErrFileTypeInvalid = 2302
)

// 3xxx: Identity and Session Errors
const (
	// ErrUnauthenticated indicates a mutating request without a verified, live identity.
	ErrUnauthenticated = 3001

	// ErrNicknameTaken indicates that the nickname is held by an identity that is online.
	ErrNicknameTaken = 3002

	// ErrInvalidNickname indicates a nickname that fails the format rules.
	ErrInvalidNickname = 3003

	// ErrInvalidGender indicates an unknown presentation attribute.
	ErrInvalidGender = 3004

	// ErrSessionKicked indicates that the connection was replaced by a newer one.
	ErrSessionKicked = 3005

	// ErrUserNotFound indicates a profile lookup for an unknown identity.
	ErrUserNotFound = 3007

	// ErrForbidden indicates an operation on a resource owned by another identity.
	ErrForbidden = 3008
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPersistenceFailure indicates that a durable store call failed.
	ErrPersistenceFailure = 5001

	// ErrFileStorageFailed indicates that the object storage service failed or is not configured.
	ErrFileStorageFailed = 5002
)
