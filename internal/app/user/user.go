/*
Package user contains the core data structure for a resolved participant identity.

The identity is resolved by the authentication boundary before a chat session is
started; inside the chat core it is treated as immutable input bound to a single
connection.
*/
package user

// Identity is the resolved reference to a chat participant.
// Fields carry JSON tags because identities appear inside WebSocket events.
type Identity struct {

	// ID is the unique database identifier of the user.
	ID int64 `json:"id"`

	// Name is the display name shown to other room members.
	Name string `json:"name"`
}
