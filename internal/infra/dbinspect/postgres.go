package dbinspect

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

// postgresInspector samples rows and reads schema metadata over a pgx pool.
type postgresInspector struct {
	pool        *pgxpool.Pool
	sampleLimit int
	logger      *logger.Logger
}

func openPostgres(ctx context.Context, connString string, sampleLimit int, log *logger.Logger) (*postgresInspector, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, scanning.NewConnectionError("postgres", err)
	}

	return &postgresInspector{pool: pool, sampleLimit: sampleLimit, logger: log}, nil
}

func (p *postgresInspector) SampleRows(ctx context.Context, table string) ([]scanning.Row, error) {
	if err := validateIdent(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d",
		pgx.Identifier{table}.Sanitize(), p.sampleLimit)

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var sampled []scanning.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, scanning.NewConnectionError("postgres", err)
		}
		row := make(scanning.Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		sampled = append(sampled, row)
	}
	if err := rows.Err(); err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	return sampled, nil
}

// TableOwner degrades to the unknown sentinel; ownership is informational
// and must not fail a scan.
func (p *postgresInspector) TableOwner(ctx context.Context, table string) string {
	const query = `SELECT tableowner FROM pg_tables WHERE tablename = $1`

	var owner string
	if err := p.pool.QueryRow(ctx, query, table).Scan(&owner); err != nil {
		p.logger.Debug(ctx, "table owner lookup failed", "table", table, "error", err)
		return scanning.UnknownOwner
	}
	return owner
}

func (p *postgresInspector) ListTables(ctx context.Context) ([]string, error) {
	const query = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, scanning.NewConnectionError("postgres", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	return tables, nil
}

func (p *postgresInspector) ListColumns(ctx context.Context, table string) (map[string]string, error) {
	const query = `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1`

	rows, err := p.pool.Query(ctx, query, table)
	if err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	defer rows.Close()

	columns := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, scanning.NewConnectionError("postgres", err)
		}
		columns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, scanning.NewConnectionError("postgres", err)
	}
	return columns, nil
}

func (p *postgresInspector) Close() { p.pool.Close() }
