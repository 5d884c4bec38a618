/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally and
in communication with clients, over HTTP responses and WebSocket error events alike.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Room and Content Business Logic Errors
const (
	// ErrRoomNotFound indicates that the requested room does not exist.
	ErrRoomNotFound = 2101

	// ErrNotRoomMember indicates that the authenticated user is not a member of the target room.
	ErrNotRoomMember = 2102

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageNotFound indicates that the referenced message does not exist.
	ErrMessageNotFound = 2202

	// ErrAttachmentCountInvalid indicates that a message carried zero or too many attachments.
	ErrAttachmentCountInvalid = 2301

	// ErrAttachmentKeyInvalid indicates that an attachment key does not belong to the target room.
	ErrAttachmentKeyInvalid = 2302

	// ErrAttachmentTypeInvalid indicates that an attachment file name or MIME type is not allowed.
	ErrAttachmentTypeInvalid = 2303

	// ErrFileSizeTooLarge indicates that an attachment exceeds the maximum allowed size.
	ErrFileSizeTooLarge = 2304
)

// 3xxx: Identity and Security Errors
const (
	// ErrIdentityRequired indicates that no identity token was supplied where one is mandatory.
	ErrIdentityRequired = 3001

	// ErrIdentityInvalid indicates that the supplied identity token failed validation.
	ErrIdentityInvalid = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPersistenceFailed indicates that a call to the persistence gateway failed.
	ErrPersistenceFailed = 5001

	// ErrFileStorageFailed indicates that the file storage backend rejected an operation.
	ErrFileStorageFailed = 5002
)
