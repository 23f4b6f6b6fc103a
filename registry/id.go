package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a Discord snowflake as stored in a registry file. Files written by
// older bot versions hold snowflakes as JSON numbers; ID reads both forms
// and always writes a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("registry: invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

// String returns the snowflake.
func (id ID) String() string { return string(id) }
