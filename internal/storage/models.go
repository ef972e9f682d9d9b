package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CallStatus is the durable lifecycle state of a call record.
type CallStatus string

const (
	StatusInProgress   CallStatus = "in_progress"
	StatusTranscribing CallStatus = "transcribing"
	StatusSummarizing  CallStatus = "summarizing"
	StatusEmailed      CallStatus = "emailed"
	StatusError        CallStatus = "error"
)

// Valid reports whether s is a defined call status.
func (s CallStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusTranscribing, StatusSummarizing, StatusEmailed, StatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a state the finalize pipeline will not
// advance past on its own. Error records can still be re-driven by the
// watchdog or an explicit retrigger.
func (s CallStatus) Terminal() bool {
	return s == StatusEmailed || s == StatusError
}

// CallRecord is the durable record of one phone call.
type CallRecord struct {
	ID                     string
	ProviderCallID         string
	ProviderConversationID string
	FirmID                 string
	FromNumber             string
	ToNumber               string
	Status                 CallStatus
	Urgency                string // "", "normal", "high", "emergency"
	HandledBy              string // "ai" or "human"
	TranscriptText         string
	IntakeJSON             string // snapshot stored as a JSON object
	SummaryText            string
	RecordingURL           string
	ErrorMessage           string
	StartedAt              time.Time
	EndedAt                time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Firm is a law-firm tenant: where its calls route and who gets notified.
type Firm struct {
	ID            string
	Name          string
	PhoneNumber   string // the provider number callers dial
	ForwardNumber string // human failover target during business hours
	NotifyEmails  string // JSON array stored as text
	Timezone      string // IANA name, e.g. "America/Chicago"
	BusinessOpen  int    // opening hour, 0-23, firm-local
	BusinessClose int    // closing hour, 0-23, firm-local
	AlwaysAI      bool   // when true, the AI agent answers even in business hours
	CreatedAt     time.Time
}

// Recipients decodes the firm's notification address list.
func (f Firm) Recipients() []string {
	if f.NotifyEmails == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(f.NotifyEmails), &out); err != nil {
		return nil
	}
	return out
}

// OpenNow reports whether t falls within the firm's business hours in its
// own timezone. A firm with equal open/close hours is treated as never open.
func (f Firm) OpenNow(t time.Time) bool {
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	if f.BusinessOpen == f.BusinessClose {
		return false
	}
	if f.BusinessOpen < f.BusinessClose {
		return h >= f.BusinessOpen && h < f.BusinessClose
	}
	// Overnight window, e.g. 22-6.
	return h >= f.BusinessOpen || h < f.BusinessClose
}
