package types

import (
	"encoding/json"
	"time"
)

// Command names understood by the irrigation firmware.
const (
	CommandIrrigate       = "irrigate"
	CommandUpdateSettings = "update_settings"
)

// Command is an outbound device instruction. It is built, published and
// forgotten; the broker acknowledgement is its only durability.
type Command struct {
	Name       string
	Parameters map[string]interface{}
	Timestamp  time.Time
}

type commandWire struct {
	Command    string                 `json:"command"`
	Parameters map[string]interface{} `json:"parameters"`
	Timestamp  string                 `json:"timestamp"`
}

// MarshalJSON renders {command, parameters, timestamp}.
func (c Command) MarshalJSON() ([]byte, error) {
	params := c.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	return json.Marshal(commandWire{
		Command:    c.Name,
		Parameters: params,
		Timestamp:  FormatTimestamp(c.Timestamp),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (c *Command) UnmarshalJSON(data []byte) error {
	var w commandWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return err
	}
	*c = Command{Name: w.Command, Parameters: w.Parameters, Timestamp: ts}
	return nil
}
