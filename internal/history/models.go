package history

import (
	"encoding/json"
	"time"

	"github.com/zjrosen/taskhost/internal/manager"
)

// RunModel is a row of the runs table. Times are Unix milliseconds.
type RunModel struct {
	ID         int64
	TaskID     string
	Kind       string
	Params     *string // nullable, JSON encoded
	Isolation  string
	State      string
	Reason     *string // nullable
	Signals    int
	AdmittedAt int64
	StartedAt  *int64 // nullable, task never started
	FinishedAt int64
}

func toRunModel(o manager.Outcome) *RunModel {
	m := &RunModel{
		TaskID:     o.TaskID,
		Kind:       o.Kind,
		Isolation:  o.Isolation,
		State:      string(o.State),
		Signals:    o.Signals,
		AdmittedAt: o.AdmittedAt.UnixMilli(),
		FinishedAt: o.FinishedAt.UnixMilli(),
	}
	if len(o.Params) > 0 {
		if data, err := json.Marshal(o.Params); err == nil {
			params := string(data)
			m.Params = &params
		}
	}
	if o.Reason != "" {
		reason := o.Reason
		m.Reason = &reason
	}
	if !o.StartedAt.IsZero() {
		started := o.StartedAt.UnixMilli()
		m.StartedAt = &started
	}
	return m
}

func (m *RunModel) toOutcome() manager.Outcome {
	o := manager.Outcome{
		TaskID:     m.TaskID,
		Kind:       m.Kind,
		Isolation:  m.Isolation,
		State:      manager.State(m.State),
		Signals:    m.Signals,
		AdmittedAt: time.UnixMilli(m.AdmittedAt),
		FinishedAt: time.UnixMilli(m.FinishedAt),
	}
	if m.Params != nil {
		_ = json.Unmarshal([]byte(*m.Params), &o.Params)
	}
	if m.Reason != nil {
		o.Reason = *m.Reason
	}
	if m.StartedAt != nil {
		o.StartedAt = time.UnixMilli(*m.StartedAt)
	}
	return o
}
