package subscribe

import (
	"context"
	"log/slog"
)

// Subscription is a named feed URL. Names are unique within a config.
type Subscription struct {
	Name string
	URL  string
}

// Source abstracts the feed download so the ingestor can be tested offline.
type Source interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Outcome is the per-subscription result of one ingest run. Err is set when
// the download failed; Result is then empty.
type Outcome struct {
	Subscription Subscription
	Result       Result
	Err          error
}

// Ingestor fetches and decodes subscriptions one after another.
type Ingestor struct {
	source Source
	logger *slog.Logger
}

// NewIngestor wires a feed source.
func NewIngestor(source Source, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{source: source, logger: logger}
}

// Ingest processes every subscription. A failure of one subscription never
// stops the others; decoded nodes are tagged with their origin.
func (i *Ingestor) Ingest(ctx context.Context, subs []Subscription) []Outcome {
	outcomes := make([]Outcome, 0, len(subs))
	for _, sub := range subs {
		out := Outcome{Subscription: sub}
		if sub.URL == "" {
			continue
		}

		i.logger.Info("updating subscription", "name", sub.Name, "url", redact(sub.URL))
		text, err := i.source.Fetch(ctx, sub.URL)
		if err != nil {
			i.logger.Error("subscription fetch failed", "name", sub.Name, "error", err)
			out.Err = err
			outcomes = append(outcomes, out)
			continue
		}

		out.Result = DecodeFeed(text)
		for idx := range out.Result.Nodes {
			out.Result.Nodes[idx] = out.Result.Nodes[idx].WithOrigin(sub.Name)
		}
		for _, perr := range out.Result.Errors {
			i.logger.Debug("skipped malformed entry", "name", sub.Name, "error", perr)
		}
		level := slog.LevelInfo
		if len(out.Result.Nodes) == 0 {
			level = slog.LevelWarn
		}
		i.logger.Log(ctx, level, "subscription decoded",
			"name", sub.Name,
			"format", out.Result.Format,
			"nodes", len(out.Result.Nodes),
			"parse_errors", len(out.Result.Errors),
			"unsupported", out.Result.Unsupported,
		)
		outcomes = append(outcomes, out)
	}
	return outcomes
}
