// Package dbinspect opens read-only connections to the relational engines a
// database scan can target and exposes them through the scan pipeline's
// Inspector interface.
package dbinspect

import (
	"context"
	"fmt"

	regexp "github.com/wasilibs/go-re2"

	appscan "github.com/ahrav/pii-sentinel/internal/app/scanning"
	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

var _ appscan.InspectorFactory = (*Factory)(nil)

// identRe accepts plain SQL identifiers. Table names arrive from clients,
// so anything else is rejected before it reaches a query string.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidIdentifier indicates a client-supplied table name is not a
// plain SQL identifier.
var ErrInvalidIdentifier = fmt.Errorf("invalid table identifier")

func validateIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Factory opens an Inspector for the requested engine kind.
type Factory struct {
	sampleLimit int
	logger      *logger.Logger
}

// NewFactory builds a factory whose inspectors fetch at most sampleLimit
// rows per table.
func NewFactory(sampleLimit int, log *logger.Logger) *Factory {
	return &Factory{
		sampleLimit: sampleLimit,
		logger:      log.With("component", "db_inspector"),
	}
}

// Open connects to the database behind connString. Unknown engine kinds
// yield ErrUnsupportedEngine; connect failures wrap ConnectionError.
func (f *Factory) Open(ctx context.Context, engine config.EngineKind, connString string) (appscan.Inspector, error) {
	switch engine {
	case config.EnginePostgres:
		return openPostgres(ctx, connString, f.sampleLimit, f.logger)
	case config.EngineMySQL:
		return openMySQL(ctx, connString, f.sampleLimit, f.logger)
	default:
		return nil, fmt.Errorf("%w: %s", scanning.ErrUnsupportedEngine, engine)
	}
}
