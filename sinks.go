package smartboot

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/smartboot/internal/sink"
)

// Outcome is the record of one probed bootstrap.
type Outcome = sink.Outcome

// Sink is the output interface for probe outcomes.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// OutcomeFunc is called for each outcome.
type OutcomeFunc = sink.OutcomeFunc

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn OutcomeFunc) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks listed in cfg.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(os.Stdout))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("smartboot: webhook sink without url")
			}
			out = append(out, NewWebhookSink(sc.URL, logger))
		default:
			return nil, fmt.Errorf("smartboot: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}
