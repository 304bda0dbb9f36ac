package history

import "errors"

var (
	ErrEntryNotFound      = errors.New("history entry not found")
	ErrEntryAlreadyExists = errors.New("appointment already has a history entry")
	ErrHistoryNotFound    = errors.New("unified history not found")
	ErrSessionsIncomplete = errors.New("treatment sessions are not complete; final summary not permitted")
)
