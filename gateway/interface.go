package gateway

import (
	"time"

	"github.com/c360/v2xstreams/engine"
	"github.com/c360/v2xstreams/pkg/spatial"
	"github.com/c360/v2xstreams/storage/messagestore"
)

// Controller is the engine surface a gateway reads from and drives.
// *engine.Engine implements it.
//
// Reads go straight to the store and the spatial index; every change goes
// through the control methods so the engine can log and count it.
type Controller interface {
	Store() *messagestore.Store
	Index() *spatial.Index
	Status() engine.Status

	// Configure sets the source address and reconnects
	Configure(host string, port int) error
	// Connect starts attempting the source connection
	Connect() error
	// Disconnect closes the source connection and stops attempting
	Disconnect()

	SetSweepInterval(d time.Duration) error
	Clear()
}

var _ Controller = (*engine.Engine)(nil)
