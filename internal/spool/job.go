package spool

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/taskhost/internal/task"
)

// ErrNoKind is returned for a job document without a kind.
var ErrNoKind = errors.New("job has no kind")

// Job is one task request read from a spool file.
//
//	kind: sleep
//	params:
//	  duration: 2s
//	  steps: 4
type Job struct {
	Kind   string            `yaml:"kind"`
	Params map[string]string `yaml:"params"`

	// Source is the file the job was read from.
	Source string `yaml:"-"`
}

// Build constructs the task through reg.
func (j Job) Build(reg *task.Registry) (task.Task, error) {
	return reg.Build(j.Kind, task.Params(j.Params))
}

// ParseJobs decodes every YAML document in data. Empty documents are skipped.
func ParseJobs(data []byte) ([]Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var jobs []Job
	for i := 0; ; i++ {
		var j Job
		err := dec.Decode(&j)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if j.Kind == "" && len(j.Params) == 0 {
			continue
		}
		if j.Kind == "" {
			return nil, fmt.Errorf("document %d: %w", i, ErrNoKind)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
