// Package finalize implements the post-call pipeline: claim the call
// record, obtain a transcript, generate a summary, and email the firm.
// It may be invoked multiple times for the same call (duplicate provider
// webhooks, the watchdog, manual retriggers); a conditional status claim
// plus per-stage skip checks keep repeated invocations from redoing or
// double-sending work.
package finalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/intakeline/intakeline/internal/llm"
	"github.com/intakeline/intakeline/internal/notify"
	"github.com/intakeline/intakeline/internal/retryutil"
	"github.com/intakeline/intakeline/internal/script"
	"github.com/intakeline/intakeline/internal/session"
	"github.com/intakeline/intakeline/internal/storage"
	"github.com/intakeline/intakeline/internal/telephony"
)

// RecordingFetcher looks up a call's recording at the telephony provider.
type RecordingFetcher interface {
	GetRecording(ctx context.Context, providerCallID string) (telephony.Recording, error)
}

// Transcriber converts a recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

// Chatter is the completion interface used for summarization.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []llm.Message, jsonSchema *llm.Schema) (string, error)
}

// Mailer delivers a rendered notification.
type Mailer interface {
	Send(ctx context.Context, recipients []string, subject, html string) error
}

// Input carries everything a completion signal knows about the ended
// call. All fields except ProviderCallID are optional; the pipeline
// works from whatever is present plus the durable record.
type Input struct {
	ProviderCallID string
	ConversationID string
	FirmID         string
	FromNumber     string
	ToNumber       string
	Transcript        string            // transcript embedded in the provider payload
	HistoryTranscript string            // transcript rebuilt from the session history, last resort
	RecordingURL      string            // recording link embedded in the provider payload
	Snapshot          map[string]string // intake snapshot from the live session
}

// Finalizer drives call records to a terminal state.
type Finalizer struct {
	store       *storage.Store
	chat        Chatter
	model       string
	recordings  RecordingFetcher
	transcriber Transcriber
	mailer      Mailer

	fallbackRecipients []string
	retrySchedule      []time.Duration
	emailSchedule      []time.Duration
	logger             *slog.Logger
	onFinalized        func(providerCallID string)
}

// Option configures a Finalizer.
type Option func(*Finalizer)

// WithRecordings enables transcript recovery from call recordings.
func WithRecordings(rf RecordingFetcher, tr Transcriber) Option {
	return func(f *Finalizer) {
		f.recordings = rf
		f.transcriber = tr
	}
}

// WithFallbackRecipients sets the addresses used when a call has no firm
// or the firm lists none.
func WithFallbackRecipients(addrs []string) Option {
	return func(f *Finalizer) { f.fallbackRecipients = addrs }
}

// WithRetrySchedule overrides the recording-fetch backoff schedule (tests).
func WithRetrySchedule(delays []time.Duration) Option {
	return func(f *Finalizer) { f.retrySchedule = delays }
}

// WithEmailRetrySchedule overrides the notification delivery backoff
// schedule (tests).
func WithEmailRetrySchedule(delays []time.Duration) Option {
	return func(f *Finalizer) { f.emailSchedule = delays }
}

// WithOnFinalized registers a callback fired after a call reaches a
// terminal state, with the provider call id. Used to release the live
// session and any speech cache entries.
func WithOnFinalized(fn func(providerCallID string)) Option {
	return func(f *Finalizer) { f.onFinalized = fn }
}

// New creates a Finalizer.
func New(store *storage.Store, chat Chatter, model string, mailer Mailer, opts ...Option) *Finalizer {
	f := &Finalizer{
		store:         store,
		chat:          chat,
		model:         model,
		mailer:        mailer,
		retrySchedule: retryutil.TranscriptSchedule,
		emailSchedule: retryutil.EmailSchedule,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// claimable are the statuses a fresh completion signal may take over.
// Records already transcribing or summarizing belong to an in-flight
// pipeline; only the watchdog reclaims those.
var claimable = []storage.CallStatus{storage.StatusInProgress, storage.StatusError}

// reclaimable additionally covers records abandoned mid-pipeline.
var reclaimable = []storage.CallStatus{
	storage.StatusInProgress,
	storage.StatusTranscribing,
	storage.StatusSummarizing,
	storage.StatusError,
}

// Finalize runs the pipeline for a completed call. Safe to call more
// than once: a record already emailed, or currently claimed by another
// invocation, is left alone.
func (f *Finalizer) Finalize(ctx context.Context, in Input) error {
	rec, err := f.ensureRecord(in)
	if err != nil {
		return err
	}

	claimed, err := f.store.ClaimStatus(rec.ID, claimable, storage.StatusTranscribing)
	if err != nil {
		return fmt.Errorf("claiming call %s: %w", rec.ID, err)
	}
	if !claimed {
		f.logger.Info("finalize skipped, record claimed elsewhere or already done",
			"call_id", rec.ID, "status", rec.Status)
		return nil
	}

	return f.run(ctx, rec.ID, in)
}

// Refinalize re-drives a record the watchdog found stuck mid-pipeline.
func (f *Finalizer) Refinalize(ctx context.Context, recordID string) error {
	claimed, err := f.store.ClaimStatus(recordID, reclaimable, storage.StatusTranscribing)
	if err != nil {
		return fmt.Errorf("reclaiming call %s: %w", recordID, err)
	}
	if !claimed {
		return nil
	}
	return f.run(ctx, recordID, Input{})
}

// ensureRecord finds the durable record for the input, creating it when
// the call-start event was missed.
func (f *Finalizer) ensureRecord(in Input) (storage.CallRecord, error) {
	rec, err := f.store.GetCallByProviderID(in.ProviderCallID)
	if errors.Is(err, storage.ErrNotFound) && in.ConversationID != "" {
		rec, err = f.store.GetCallByConversationID(in.ConversationID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		rec = storage.CallRecord{
			ID:                     uuid.NewString(),
			ProviderCallID:         in.ProviderCallID,
			ProviderConversationID: in.ConversationID,
			FirmID:                 in.FirmID,
			FromNumber:             in.FromNumber,
			ToNumber:               in.ToNumber,
			Status:                 storage.StatusInProgress,
			HandledBy:              "ai",
			StartedAt:              time.Now().UTC(),
		}
		if cerr := f.store.CreateCall(rec); cerr != nil {
			return storage.CallRecord{}, fmt.Errorf("creating call record lazily: %w", cerr)
		}
		f.logger.Warn("call record created at finalize time, start event was missed",
			"call_id", rec.ID, "provider_call_id", in.ProviderCallID)
	} else if err != nil {
		return storage.CallRecord{}, fmt.Errorf("looking up call record: %w", err)
	}

	if in.ConversationID != "" && rec.ProviderConversationID == "" {
		if err := f.store.SetConversationID(rec.ID, in.ConversationID); err != nil {
			return storage.CallRecord{}, err
		}
	}
	if len(in.Snapshot) > 0 {
		if err := f.mergeIntake(rec, in.Snapshot); err != nil {
			return storage.CallRecord{}, err
		}
	}
	return rec, nil
}

// mergeIntake folds the live snapshot into the stored one additively, so
// a duplicate signal carrying less data cannot erase fields.
func (f *Finalizer) mergeIntake(rec storage.CallRecord, updates map[string]string) error {
	snap := session.Snapshot{}
	if rec.IntakeJSON != "" {
		if err := json.Unmarshal([]byte(rec.IntakeJSON), &snap); err != nil {
			f.logger.Warn("stored intake unreadable, rebuilding", "call_id", rec.ID, "error", err)
			snap = session.Snapshot{}
		}
	}
	snap.Merge(updates)
	out, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return f.store.SetIntake(rec.ID, string(out))
}

// run executes the pipeline stages for a record already claimed into
// transcribing. Each stage checks the record for existing output first.
func (f *Finalizer) run(ctx context.Context, recordID string, in Input) error {
	rec, err := f.store.GetCall(recordID)
	if err != nil {
		return fmt.Errorf("loading claimed call %s: %w", recordID, err)
	}

	if err := f.transcribeStage(ctx, &rec, in); err != nil {
		// Missing transcripts degrade; only storage failures land here.
		return f.fail(rec, fmt.Errorf("transcribe stage: %w", err))
	}

	moved, err := f.store.ClaimStatus(rec.ID, []storage.CallStatus{storage.StatusTranscribing}, storage.StatusSummarizing)
	if err != nil {
		return err
	}
	if !moved {
		// Another invocation took over mid-pipeline.
		return nil
	}

	if err := f.summarizeStage(ctx, &rec); err != nil {
		return f.fail(rec, fmt.Errorf("summarize stage: %w", err))
	}

	if err := f.emailStage(ctx, rec); err != nil {
		return f.fail(rec, err)
	}

	if _, err := f.store.ClaimStatus(rec.ID, []storage.CallStatus{storage.StatusSummarizing}, storage.StatusEmailed); err != nil {
		return err
	}
	if rec.EndedAt.IsZero() {
		if err := f.store.SetCallEnded(rec.ID, time.Now().UTC()); err != nil {
			return err
		}
	}

	f.logger.Info("call finalized", "call_id", rec.ID, "provider_call_id", rec.ProviderCallID)
	if f.onFinalized != nil && rec.ProviderCallID != "" {
		f.onFinalized(rec.ProviderCallID)
	}
	return nil
}

// fail marks the record error with a descriptive message and returns the
// original failure.
func (f *Finalizer) fail(rec storage.CallRecord, cause error) error {
	if err := f.store.MarkError(rec.ID, cause.Error()); err != nil {
		f.logger.Error("marking call error failed", "call_id", rec.ID, "error", err)
	}
	return cause
}

// transcribeStage fills rec.TranscriptText from the best available
// source: the stored record, the provider payload, or a recording fetch
// with bounded retries. A call with no obtainable transcript proceeds on
// the snapshot alone.
func (f *Finalizer) transcribeStage(ctx context.Context, rec *storage.CallRecord, in Input) error {
	if rec.TranscriptText != "" {
		return nil
	}

	text := strings.TrimSpace(in.Transcript)
	if in.RecordingURL != "" && rec.RecordingURL == "" {
		if err := f.store.SetRecordingURL(rec.ID, in.RecordingURL); err != nil {
			return err
		}
		rec.RecordingURL = in.RecordingURL
	}

	if text == "" && f.recordings != nil && rec.ProviderCallID != "" {
		text = f.transcribeFromRecording(ctx, rec)
	}
	if text == "" {
		text = strings.TrimSpace(in.HistoryTranscript)
	}

	if text == "" {
		f.logger.Warn("no transcript available, proceeding with snapshot only", "call_id", rec.ID)
		return nil
	}

	if err := f.store.SetTranscript(rec.ID, text); err != nil {
		return err
	}
	rec.TranscriptText = text
	return nil
}

// transcribeFromRecording fetches the call recording, retrying on the
// short window where a just-ended call has none yet, then runs
// speech-to-text. Failures degrade to an empty transcript.
func (f *Finalizer) transcribeFromRecording(ctx context.Context, rec *storage.CallRecord) string {
	var recording telephony.Recording
	err := retryutil.Do(ctx, f.retrySchedule, func(ctx context.Context) error {
		var ferr error
		recording, ferr = f.recordings.GetRecording(ctx, rec.ProviderCallID)
		return ferr
	})
	if err != nil {
		f.logger.Warn("recording unavailable", "call_id", rec.ID, "error", err)
		return ""
	}

	if rec.RecordingURL == "" {
		if serr := f.store.SetRecordingURL(rec.ID, recording.MediaURL); serr != nil {
			f.logger.Error("saving recording url failed", "call_id", rec.ID, "error", serr)
		} else {
			rec.RecordingURL = recording.MediaURL
		}
	}

	if f.transcriber == nil {
		return ""
	}
	text, err := f.transcriber.Transcribe(ctx, recording.MediaURL)
	if err != nil {
		f.logger.Warn("transcription failed", "call_id", rec.ID, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// summarizeStage fills rec.SummaryText and urgency, preferring the model
// and falling back to a deterministic summary built from the snapshot.
func (f *Finalizer) summarizeStage(ctx context.Context, rec *storage.CallRecord) error {
	if rec.SummaryText != "" {
		return nil
	}

	sum, err := f.summarize(ctx, *rec)
	if err != nil {
		f.logger.Warn("model summary failed, using deterministic fallback", "call_id", rec.ID, "error", err)
		sum = fallbackSummary(*rec)
	}

	encoded, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	if err := f.store.SetSummary(rec.ID, string(encoded), sum.Urgency); err != nil {
		return err
	}
	rec.SummaryText = string(encoded)
	rec.Urgency = sum.Urgency
	return nil
}

// emailStage sends the notification. Each send is retried on a short
// schedule, then the rich template degrades to the basic one. Both
// failing is the pipeline's only unrecoverable error.
func (f *Finalizer) emailStage(ctx context.Context, rec storage.CallRecord) error {
	recipients := f.recipients(rec)
	if len(recipients) == 0 {
		return fmt.Errorf("no notification recipients configured for call %s", rec.ID)
	}

	data := f.intakeData(rec)

	richErr := f.sendRendered(ctx, recipients, data, notify.RenderRich)
	if richErr == nil {
		return nil
	}
	f.logger.Warn("rich notification failed, sending basic", "call_id", rec.ID, "error", richErr)

	basicErr := f.sendRendered(ctx, recipients, data, notify.RenderBasic)
	if basicErr == nil {
		return nil
	}
	return fmt.Errorf("notification failed: rich: %v; basic: %v", richErr, basicErr)
}

func (f *Finalizer) sendRendered(ctx context.Context, recipients []string, data notify.IntakeData, render func(notify.IntakeData) (notify.Email, error)) error {
	email, err := render(data)
	if err != nil {
		return err
	}
	return retryutil.Do(ctx, f.emailSchedule, func(ctx context.Context) error {
		return f.mailer.Send(ctx, recipients, email.Subject, email.HTML)
	})
}

func (f *Finalizer) recipients(rec storage.CallRecord) []string {
	if rec.FirmID != "" {
		firm, err := f.store.GetFirm(rec.FirmID)
		if err == nil {
			if addrs := firm.Recipients(); len(addrs) > 0 {
				return addrs
			}
		} else if !errors.Is(err, storage.ErrNotFound) {
			f.logger.Error("firm lookup failed", "firm_id", rec.FirmID, "error", err)
		}
	}
	return f.fallbackRecipients
}

// intakeData assembles the notification payload from the durable record.
func (f *Finalizer) intakeData(rec storage.CallRecord) notify.IntakeData {
	snap := map[string]string{}
	if rec.IntakeJSON != "" {
		if err := json.Unmarshal([]byte(rec.IntakeJSON), &snap); err != nil {
			f.logger.Warn("stored intake unreadable", "call_id", rec.ID, "error", err)
		}
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
		if firm, err := f.store.GetFirm(rec.FirmID); err == nil && firm.Name != "" {
			firmName = firm.Name
		}
	}

	data := notify.IntakeData{
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
	if !rec.StartedAt.IsZero() {
		data.CallTime = rec.StartedAt.UTC().Format("Jan 2, 2006 3:04 PM MST")
	}

	var sum Summary
	if rec.SummaryText != "" {
		if err := json.Unmarshal([]byte(rec.SummaryText), &sum); err == nil {
			data.SummaryBullets = sum.Bullets
			data.KeyFacts = sum.KeyFacts
			data.ActionItems = sum.ActionItems
			data.FollowUp = sum.FollowUp
		}
	}
	return data
}
