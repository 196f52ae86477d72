package domain

// Sink receives every state change the generator produces. The sqlite
// store is the production implementation; tests use an in-memory one.
//
// Writes happen on the tick goroutine, so implementations need no
// internal locking.
type Sink interface {
	// SaveOperation inserts or updates one operation row.
	SaveOperation(op *Operation) error
	// AppendEvents persists emitted events. Records are append-only.
	AppendEvents(events []EventRecord) error
	// AppendWarning persists one equipment warning.
	AppendWarning(w WarningRecord) error
}
