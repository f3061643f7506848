package domain

import "errors"

var (
	// ErrCatalogueTooSmall indicates fewer than four distinct provinces; the
	// generator cannot assemble an option set, so startup must fail.
	ErrCatalogueTooSmall = errors.New("catalogue needs at least four distinct provinces")
	// ErrCatalogueEntryEmpty indicates a catalogue row with a blank district or province.
	ErrCatalogueEntryEmpty = errors.New("catalogue entry has empty district or province")
	// ErrGameNotFound is returned when no live game exists for an identity.
	ErrGameNotFound = errors.New("game not found")
	// ErrNotInLobby is returned when a session is started outside the lobby.
	ErrNotInLobby = errors.New("not in lobby")
	// ErrNotPlaying is returned for in-round actions outside an active session.
	ErrNotPlaying = errors.New("no session in progress")
	// ErrDailyLimitReached is returned when both daily play credits are spent.
	ErrDailyLimitReached = errors.New("daily game limit reached")
	// ErrUserNotFound indicates the user record could not be loaded.
	ErrUserNotFound = errors.New("user not found")
)
