package panel

import "errors"

// Local, synchronous rejections. These never cross the core boundary as
// panics; callers surface them as plain status text.
var (
	// ErrTabCapacity is returned by tab creation when MaxTabs tabs
	// already exist.
	ErrTabCapacity = errors.New("tab limit reached")

	// ErrLastTab is returned when closing the sole remaining tab. The
	// caller must kill the session instead.
	ErrLastTab = errors.New("cannot close the last tab")

	// ErrTabNotFound is returned for operations on unknown tab IDs.
	ErrTabNotFound = errors.New("tab not found")

	// ErrInvalidColor is returned for a color outside the palette.
	ErrInvalidColor = errors.New("invalid tab color")

	// ErrNoSession is returned for session-scoped operations when no
	// session is current.
	ErrNoSession = errors.New("no session selected")
)
