/*
Package errs provides custom error types and application-level error code constants.

These codes identify specific business or system errors both internally and in
messages sent to connected editor clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Room and Document Business Logic Errors
const (
	// ErrRoomAlreadyExists indicates that the room id chosen for creation is taken.
	ErrRoomAlreadyExists = 2101

	// ErrRoomNotFound indicates that the targeted room does not exist.
	ErrRoomNotFound = 2102

	// ErrRoomIsFull indicates that the room reached its maximum participant count.
	ErrRoomIsFull = 2103

	// ErrInvalidOperation indicates a structurally invalid edit operation:
	// unknown type, missing content for insert/replace, missing length for
	// delete/replace, or a sequence baseline ahead of the room's history.
	ErrInvalidOperation = 2201
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified internal server error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates that a room snapshot could not be saved or loaded.
	ErrStorageFailed = 5001
)
