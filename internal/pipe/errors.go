package pipe

import "errors"

var (
	errReadEndNotWritable  = errors.New("pipe: read end is not writable")
	errWriteEndNotReadable = errors.New("pipe: write end is not readable")
)
