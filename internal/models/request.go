// Package models - API request types.
package models

import (
	"errors"
	"strings"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// TriggerRequest is the optional body of a manual dispatch.
type TriggerRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Validate checks the trigger request.
func (r *TriggerRequest) Validate() error {
	if len(r.Reason) > 256 {
		return errors.New("reason must be at most 256 characters")
	}
	return nil
}

// Normalize trims the free-form reason.
func (r *TriggerRequest) Normalize() {
	r.Reason = strings.TrimSpace(r.Reason)
}

// ListRunsRequest selects a page of run history.
type ListRunsRequest struct {
	Limit   int     `json:"limit"`
	Outcome Outcome `json:"outcome,omitempty"`
	Trigger Trigger `json:"trigger,omitempty"`
}

// Validate checks the list request.
func (r *ListRunsRequest) Validate() error {
	if r.Limit < 0 {
		return errors.New("limit cannot be negative")
	}
	if r.Outcome != "" && r.Outcome != OutcomeSuccess && r.Outcome != OutcomeFailure {
		return errors.New("outcome must be success or failure")
	}
	if r.Trigger != "" && !r.Trigger.Valid() {
		return errors.New("trigger must be schedule or manual")
	}
	return nil
}

// Normalize applies the default limit and clamps it to the maximum.
func (r *ListRunsRequest) Normalize() {
	if r.Limit == 0 {
		r.Limit = DefaultListLimit
	}
	if r.Limit > MaxListLimit {
		r.Limit = MaxListLimit
	}
}
