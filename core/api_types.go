package core

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from "10s" style strings or from
// a number of nanoseconds.
type Duration time.Duration

func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	tmp, err := time.ParseDuration(s)
	if err != nil {
		var n int64
		if nerr := node.Decode(&n); nerr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		tmp = time.Duration(n)
	}
	*d = Duration(tmp)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// StopRequest is the body of POST /api/v1/run/stop.
type StopRequest struct {
	Level  string `json:"level"`  // "soft" or "hard"
	Reason string `json:"reason"` // Free text recorded in the run summary
}

// StopResponse reports the level after a stop request.
type StopResponse struct {
	Changed bool   `json:"changed"`
	Level   string `json:"level"`
	Reason  string `json:"reason,omitempty"`
}

// RunStatusResponse is returned by GET /api/v1/run.
type RunStatusResponse struct {
	RunID     string            `json:"run_id"`
	Level     string            `json:"level"`
	Reason    string            `json:"reason,omitempty"`
	Counts    map[TaskState]int `json:"counts"`
	Abandoned int               `json:"abandoned"`
	Uptime    string            `json:"uptime"`
}
