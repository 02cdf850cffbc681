package eventstream

import "errors"

var (
	ErrPreludeCRCMismatch  = errors.New("eventstream: prelude_crc_mismatch")
	ErrMessageCRCMismatch  = errors.New("eventstream: message_crc_mismatch")
	ErrTruncatedHeader     = errors.New("eventstream: truncated_header")
	ErrInvalidHeaderType   = errors.New("eventstream: invalid_header_type")
	ErrLengthOutOfBounds   = errors.New("eventstream: length_out_of_bounds")
)
