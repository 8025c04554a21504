// Package sink defines output backends for bootstrap outcomes.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/smartboot/bootstrap"
)

// Outcome is the record of one probed bootstrap.
type Outcome struct {
	RunID         string    `json:"run_id"`
	Driver        string    `json:"driver"`
	PageURL       string    `json:"page_url"`
	AccountID     string    `json:"account_id"`
	Mode          string    `json:"mode"`
	RequestTarget string    `json:"request_target"`
	Token         string    `json:"token,omitempty"`
	State         string    `json:"state"`
	Trigger       string    `json:"trigger"`
	Hidden        bool      `json:"hidden"`
	HiddenForMS   int64     `json:"hidden_for_ms"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// FromReport builds an Outcome from a controller report.
func FromReport(runID, driver string, r bootstrap.Report) Outcome {
	return Outcome{
		RunID:         runID,
		Driver:        driver,
		PageURL:       r.PageURL,
		AccountID:     r.Config.AccountID,
		Mode:          string(r.Config.Mode),
		RequestTarget: r.RequestTarget,
		Token:         r.Token,
		State:         r.State,
		Trigger:       string(r.Trigger),
		Hidden:        r.Hidden,
		HiddenForMS:   r.HiddenFor().Milliseconds(),
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
	}
}

// Sink is the output interface. Implementations deliver outcomes to
// different backends (stdout, webhook, store, in-process callback).
type Sink interface {
	SendOutcome(ctx context.Context, o Outcome) error
	Close() error
}
