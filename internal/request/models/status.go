package models

import (
	"slices"
	"strings"

	dErrors "consular/pkg/domain-errors"
)

// Status is the lifecycle state of a service request.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusSubmitted            Status = "SUBMITTED"
	StatusInReview             Status = "IN_REVIEW"
	StatusAdditionalInfoNeeded Status = "ADDITIONAL_INFO_NEEDED"
	StatusApproved             Status = "APPROVED"
	StatusRejected             Status = "REJECTED"
	StatusCompleted            Status = "COMPLETED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusDraft, StatusSubmitted, StatusInReview, StatusAdditionalInfoNeeded,
	StatusApproved, StatusRejected, StatusCompleted,
}

// transitions is the complete set of allowed moves. Everything moves forward
// except ADDITIONAL_INFO_NEEDED → SUBMITTED.
var transitions = map[Status][]Status{
	StatusDraft:                {StatusSubmitted},
	StatusSubmitted:            {StatusInReview, StatusApproved, StatusRejected, StatusAdditionalInfoNeeded},
	StatusInReview:             {StatusApproved, StatusRejected, StatusAdditionalInfoNeeded},
	StatusAdditionalInfoNeeded: {StatusSubmitted},
	StatusApproved:             {StatusCompleted},
}

// reviewOutcomes are the statuses a reviewer may choose.
var reviewOutcomes = []Status{StatusApproved, StatusRejected, StatusAdditionalInfoNeeded}

func (s Status) IsValid() bool {
	return slices.Contains(AllStatuses, s)
}

// IsTerminal reports statuses with no outgoing transition.
func (s Status) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown request status: "+s)
	}
	return st, nil
}

// ParseReviewOutcome accepts only APPROVED, REJECTED or ADDITIONAL_INFO_NEEDED.
func ParseReviewOutcome(s string) (Status, error) {
	st, err := ParseStatus(s)
	if err != nil {
		return "", err
	}
	if !slices.Contains(reviewOutcomes, st) {
		return "", dErrors.New(dErrors.CodeValidation, "review status must be APPROVED, REJECTED or ADDITIONAL_INFO_NEEDED")
	}
	return st, nil
}
