// Package jobsync keeps client-visible job state in step with the status the
// backend reports, using a fast foreground poll while a job is known to be in
// flight and a slow background watch that picks up jobs started elsewhere.
package jobsync

import (
	"strings"

	"mealplan/internal/api"
)

const (
	defaultProgressText = "Processing..."
	successText         = "Recommendations generated successfully!"
)

// Session is the foreground polling session. It is a plain value: the
// synchronizer owns the only live copy and replaces it wholesale.
type Session struct {
	// Active is true while a foreground ticker is running.
	Active bool
	// ID increases every time a foreground session starts. Results carrying
	// an older ID belong to a superseded session.
	ID uint64
	// Issued is the sequence number of the last status fetch sent.
	Issued uint64
	// Applied is the sequence number of the last status response applied.
	Applied uint64
}

type EffectKind int

const (
	EffectShowProgress EffectKind = iota + 1
	EffectSetBusy
	EffectStopTimer
	EffectRenderResults
	EffectNotifySuccess
	EffectNotifyError
)

func (k EffectKind) String() string {
	switch k {
	case EffectShowProgress:
		return "show_progress"
	case EffectSetBusy:
		return "set_busy"
	case EffectStopTimer:
		return "stop_timer"
	case EffectRenderResults:
		return "render_results"
	case EffectNotifySuccess:
		return "notify_success"
	case EffectNotifyError:
		return "notify_error"
	default:
		return "unknown"
	}
}

// Effect is one presentation action produced by a transition.
type Effect struct {
	Kind EffectKind
	Text string
	Busy bool
}

func showProgress(text string) Effect { return Effect{Kind: EffectShowProgress, Text: text} }
func setBusy(busy bool) Effect        { return Effect{Kind: EffectSetBusy, Busy: busy} }

// Apply folds the status response for fetch seq into the session. Responses
// for an inactive session, or older than the last applied one, yield no
// effects and leave the session untouched.
func Apply(s Session, seq uint64, st api.JobStatus) (Session, []Effect) {
	if !s.Active || seq <= s.Applied {
		return s, nil
	}
	s.Applied = seq

	switch st.Status {
	case api.StatusProcessing:
		return s, []Effect{showProgress(progressText(st))}
	case api.StatusCompleted:
		s.Active = false
		return s, []Effect{
			{Kind: EffectStopTimer},
			setBusy(false),
			{Kind: EffectRenderResults},
			{Kind: EffectNotifySuccess, Text: successText},
		}
	case api.StatusError:
		s.Active = false
		return s, []Effect{
			{Kind: EffectStopTimer},
			setBusy(false),
			{Kind: EffectNotifyError, Text: errorText(st)},
		}
	default:
		return s, nil
	}
}

// Detect decides whether a background observation should promote to
// foreground polling. issued is the session as it was when the background
// fetch was sent. The observation is stale, and ignored, if a foreground
// session was active then or has started since. A nil result means no
// promotion.
func Detect(s, issued Session, st api.JobStatus) []Effect {
	if s.Active || issued.Active || s.ID != issued.ID || st.Status != api.StatusProcessing {
		return nil
	}
	return []Effect{setBusy(true), showProgress(progressText(st))}
}

func progressText(st api.JobStatus) string {
	if msg := strings.TrimSpace(st.StatusMessage); msg != "" {
		return msg
	}
	return defaultProgressText
}

func errorText(st api.JobStatus) string {
	if msg := strings.TrimSpace(st.StatusMessage); msg != "" {
		return msg
	}
	if detail := strings.TrimSpace(st.Error); detail != "" {
		return detail
	}
	return "Error: generation failed"
}
