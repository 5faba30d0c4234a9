package models

// ReadState distinguishes an empty read from a failed one.
type ReadState string

const (
	ReadOK     ReadState = "ok"
	ReadEmpty  ReadState = "empty"
	ReadFailed ReadState = "failed"
)

// ReadResult is one independently loaded section of an aggregate page.
type ReadResult[T any] struct {
	State ReadState `json:"state"`
	Data  []T       `json:"data"`
	Error string    `json:"error,omitempty"`
}

// NewReadResult classifies the outcome of a list read.
func NewReadResult[T any](data []T, err error) ReadResult[T] {
	if err != nil {
		return ReadResult[T]{State: ReadFailed, Data: []T{}, Error: err.Error()}
	}
	if len(data) == 0 {
		return ReadResult[T]{State: ReadEmpty, Data: []T{}}
	}
	return ReadResult[T]{State: ReadOK, Data: data}
}
