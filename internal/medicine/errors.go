package medicine

import "errors"

var (
	// ErrDuplicateTime rejects adding a clock time already present in the set.
	ErrDuplicateTime = errors.New("time already added")

	// ErrCapacityExceeded rejects adding beyond the frequency's slot cap.
	ErrCapacityExceeded = errors.New("maximum times reached for frequency")

	// ErrIndexOutOfRange rejects removal of a slot index that does not exist.
	ErrIndexOutOfRange = errors.New("slot index out of range")
)
