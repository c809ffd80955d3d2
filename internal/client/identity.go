package client

import (
	"sync"

	"github.com/google/uuid"
)

var clientID = sync.OnceValue(uuid.NewString)

// ClientID identifies this process to peers across reconnects. It is generated
// once and never changes for the life of the process.
func ClientID() string {
	return clientID()
}
