package channels

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Stdout writes messages as JSON lines to an io.Writer (default os.Stdout).
// Useful for dry runs without a Discord token.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "notification", Data: msg})
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
