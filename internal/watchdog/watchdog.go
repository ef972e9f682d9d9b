// Package watchdog rescues calls stuck mid-pipeline: records left in
// transcribing or summarizing past a threshold are re-driven through the
// finalizer, and records that still cannot finish get a degraded
// notification and an error mark so no call ever disappears silently.
package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/intakeline/intakeline/internal/notify"
	"github.com/intakeline/intakeline/internal/script"
	"github.com/intakeline/intakeline/internal/storage"
)

// DefaultStaleThreshold is how long a record may sit in a mid-pipeline
// status before the watchdog considers it abandoned.
const DefaultStaleThreshold = 5 * time.Minute

// Refinalizer re-drives one stuck record through the finalize pipeline.
type Refinalizer interface {
	Refinalize(ctx context.Context, recordID string) error
}

// Mailer delivers the degraded notification.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, html string) error
}

// Watchdog sweeps for stale call records.
type Watchdog struct {
	store              *storage.Store
	finalizer          Refinalizer
	mailer             Mailer
	fallbackRecipients []string
	threshold          time.Duration
	logger             *slog.Logger
	now                func() time.Time
}

// New creates a Watchdog with the default staleness threshold.
func New(store *storage.Store, finalizer Refinalizer, mailer Mailer, fallbackRecipients []string) *Watchdog {
	return &Watchdog{
		store:              store,
		finalizer:          finalizer,
		mailer:             mailer,
		fallbackRecipients: fallbackRecipients,
		threshold:          DefaultStaleThreshold,
		logger:             slog.Default(),
		now:                time.Now,
	}
}

// staleStatuses are the mid-pipeline states a record can be abandoned in.
var staleStatuses = []storage.CallStatus{storage.StatusTranscribing, storage.StatusSummarizing}

// Result reports one sweep's outcome.
type Result struct {
	Retriggered int `json:"retriggered"`
	Failed      int `json:"failed"`
}

// Sweep finds stale records and re-drives each one. A record whose
// re-drive fails gets a degraded notification and an error mark. The
// returned counts cover every stale record found; the error, if any, is
// the first degraded-path failure.
func (w *Watchdog) Sweep(ctx context.Context) (Result, error) {
	cutoff := w.now().Add(-w.threshold)
	stale, err := w.store.FindStale(staleStatuses, cutoff)
	if err != nil {
		return Result{}, fmt.Errorf("finding stale calls: %w", err)
	}

	var res Result
	var firstErr error
	for _, rec := range stale {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		w.logger.Info("re-driving stale call", "call_id", rec.ID, "status", rec.Status,
			"updated_at", rec.UpdatedAt)

		err := w.finalizer.Refinalize(ctx, rec.ID)
		if err == nil {
			res.Retriggered++
			continue
		}
		w.logger.Warn("re-finalize failed, degrading", "call_id", rec.ID, "error", err)
		res.Failed++
		if derr := w.degrade(ctx, rec, err); derr != nil && firstErr == nil {
			firstErr = derr
		}
	}
	return res, firstErr
}

// degrade sends the raw-intake notification directly, bypassing the
// summary pipeline, then marks the record error so a human follows up.
func (w *Watchdog) degrade(ctx context.Context, rec storage.CallRecord, cause error) error {
	msg := fmt.Sprintf("finalize retriggered by watchdog and failed: %v", cause)
	if err := w.store.MarkError(rec.ID, msg); err != nil {
		w.logger.Error("marking stale call error failed", "call_id", rec.ID, "error", err)
	}

	recipients := w.recipients(rec)
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients for degraded notification, call %s", rec.ID)
	}

	email, err := notify.RenderBasic(w.intakeData(rec))
	if err != nil {
		return err
	}
	if err := w.mailer.Send(ctx, recipients, email.Subject, email.HTML); err != nil {
		return fmt.Errorf("degraded notification for call %s: %w", rec.ID, err)
	}
	return nil
}

func (w *Watchdog) recipients(rec storage.CallRecord) []string {
	if rec.FirmID != "" {
		firm, err := w.store.GetFirm(rec.FirmID)
		if err == nil {
			if addrs := firm.Recipients(); len(addrs) > 0 {
				return addrs
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			w.logger.Error("firm lookup failed", "firm_id", rec.FirmID, "error", err)
		}
	}
	return w.fallbackRecipients
}

func (w *Watchdog) intakeData(rec storage.CallRecord) notify.IntakeData {
	snap := map[string]string{}
	if rec.IntakeJSON != "" {
		json.Unmarshal([]byte(rec.IntakeJSON), &snap)
	}
	field := func(name script.Field) string {
		v := snap[string(name)]
		if strings.EqualFold(v, script.Unknown) {
			return ""
		}
		return v
	}

	firmName := "Your firm"
	if rec.FirmID != "" {
		if firm, err := w.store.GetFirm(rec.FirmID); err == nil && firm.Name != "" {
			firmName = firm.Name
		}
	}

	return notify.IntakeData{
		FirmName:        firmName,
		FromPhone:       rec.FromNumber,
		Urgency:         rec.Urgency,
		CallerName:      field(script.FieldFullName),
		CallerPhone:     field(script.FieldPhoneNumber),
		CallerEmail:     field(script.FieldEmail),
		CaseReason:      field(script.FieldCaseReason),
		IncidentDetails: field(script.FieldIncidentDetails),
		CallbackTime:    field(script.FieldCallbackTime),
		RecordingURL:    rec.RecordingURL,
		Transcript:      rec.TranscriptText,
	}
}
