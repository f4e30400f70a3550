package arena

import "errors"

var (
	// ErrNoSpace indicates that no free block large enough was found and growth failed.
	ErrNoSpace = errors.New("arena: no free block large enough")

	// ErrBadPointer indicates a pointer that does not address a live block payload.
	ErrBadPointer = errors.New("arena: bad block pointer")

	// ErrMapFail indicates that mapping a new segment failed.
	ErrMapFail = errors.New("arena: segment mapping failed")

	// ErrClosed indicates use of an arena after Close.
	ErrClosed = errors.New("arena: closed")
)
