package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIllegalTransition is returned when an operation is not allowed from the current state.
	ErrIllegalTransition = errors.New("illegal document transition")
	// ErrRemarksRequired is returned when a rejection carries no remarks.
	ErrRemarksRequired = errors.New("rejection remarks required")
)

// DocumentState is the lifecycle state of one (student, checklist item) pair.
// The set of implementations is closed.
type DocumentState interface {
	Status() DocumentStatus
	sealed()
}

type (
	StateMissing  struct{}
	StatePending  struct{}
	StateApproved struct{}
	StateRejected struct{ Remarks string }
)

func (StateMissing) Status() DocumentStatus  { return StatusMissing }
func (StatePending) Status() DocumentStatus  { return StatusPending }
func (StateApproved) Status() DocumentStatus { return StatusApproved }
func (StateRejected) Status() DocumentStatus { return StatusRejected }

func (StateMissing) sealed()  {}
func (StatePending) sealed()  {}
func (StateApproved) sealed() {}
func (StateRejected) sealed() {}

// StateOf maps a stored submission (nil when absent) to its state.
func StateOf(sub *Submission) DocumentState {
	if sub == nil {
		return StateMissing{}
	}
	switch sub.Status.Normalize() {
	case StatusApproved:
		return StateApproved{}
	case StatusRejected:
		remarks := ""
		if sub.Remarks != nil {
			remarks = *sub.Remarks
		}
		return StateRejected{Remarks: remarks}
	default:
		return StatePending{}
	}
}

// Submit uploads a file: a first upload or a re-upload after rejection.
func Submit(from DocumentState) (DocumentState, error) {
	switch from.(type) {
	case StateMissing, StateRejected:
		return StatePending{}, nil
	default:
		return nil, illegal("upload", from)
	}
}

// Approve accepts a pending document. Approving an approved document is allowed.
func Approve(from DocumentState) (DocumentState, error) {
	switch from.(type) {
	case StatePending, StateApproved:
		return StateApproved{}, nil
	default:
		return nil, illegal("approve", from)
	}
}

// Reject returns a pending document to the student with remarks.
func Reject(from DocumentState, remarks string) (DocumentState, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return nil, ErrRemarksRequired
	}
	if _, ok := from.(StatePending); !ok {
		return nil, illegal("reject", from)
	}
	return StateRejected{Remarks: remarks}, nil
}

func illegal(op string, from DocumentState) error {
	return fmt.Errorf("%w: cannot %s a %s document", ErrIllegalTransition, op, from.Status())
}
