package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// payload is a message body that can check its own fields.
type payload interface {
	check(subject string) error
}

// schemas maps each run subject to a constructor for its payload.
var schemas = map[string]func() payload{
	SubjectRunStarted:   func() payload { return &RunStartedPayload{} },
	SubjectRunCompleted: func() payload { return &RunFinishedPayload{} },
	SubjectRunFailed:    func() payload { return &RunFinishedPayload{} },
	SubjectRunCancelled: func() payload { return &RunFinishedPayload{} },
}

// Validate checks that data is JSON and, for the run subjects, that it
// decodes into the subject's payload with consistent fields. Other subjects
// only need to be JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	newPayload, ok := schemas[subject]
	if !ok {
		return nil
	}
	p := newPayload()
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if err := p.check(subject); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}

func (p *RunStartedPayload) check(string) error {
	if p.RunID == "" {
		return errors.New("run_id is required")
	}
	if _, err := time.Parse(time.RFC3339, p.StartedAt); err != nil {
		return fmt.Errorf("started_at: %w", err)
	}
	return nil
}

// check requires the status to match the subject, so a "failed" body on
// devsync.run.completed is rejected.
func (p *RunFinishedPayload) check(subject string) error {
	if p.RunID == "" {
		return errors.New("run_id is required")
	}
	if want := subject[strings.LastIndexByte(subject, '.')+1:]; p.Status != want {
		return fmt.Errorf("status %q does not match subject", p.Status)
	}
	if p.DurationMS < 0 || p.Skipped < 0 {
		return errors.New("negative duration or skipped count")
	}
	return nil
}
