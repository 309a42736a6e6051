package events

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/shelter/internal/core"
)

// LogPublisher writes events to the log instead of a broker. Used when no
// broker URL is configured.
type LogPublisher struct {
	logger *slog.Logger
}

var _ core.Publisher = (*LogPublisher)(nil)

// NewLogPublisher returns a publisher that logs at debug level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishImportCompleted(ctx context.Context, evt core.ImportCompleted) error {
	p.logger.LogAttrs(ctx, slog.LevelDebug, "import completed event",
		slog.String("import_id", evt.ImportID),
		slog.String("status", evt.Status),
		slog.Int("created", evt.Result.Created),
		slog.Int("updated", evt.Result.Updated),
		slog.Int("deleted", evt.Result.Deleted),
		slog.Int("skipped", evt.Result.Skipped),
	)
	return nil
}
