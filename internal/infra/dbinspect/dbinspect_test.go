package dbinspect

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/pii-sentinel/internal/config"
	"github.com/ahrav/pii-sentinel/internal/domain/scanning"
	"github.com/ahrav/pii-sentinel/pkg/common/logger"
)

func testLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func TestOpenRejectsUnknownEngine(t *testing.T) {
	f := NewFactory(100, testLogger())

	_, err := f.Open(context.Background(), config.EngineKind("oracle"), "oracle://host/db")
	require.ErrorIs(t, err, scanning.ErrUnsupportedEngine)
}

func TestValidateIdent(t *testing.T) {
	require.NoError(t, validateIdent("customers"))
	require.NoError(t, validateIdent("order_items_2024"))
	require.NoError(t, validateIdent("_internal"))

	require.ErrorIs(t, validateIdent("users; DROP TABLE users"), ErrInvalidIdentifier)
	require.ErrorIs(t, validateIdent("users`"), ErrInvalidIdentifier)
	require.ErrorIs(t, validateIdent(""), ErrInvalidIdentifier)
	require.ErrorIs(t, validateIdent("1users"), ErrInvalidIdentifier)
}

func TestNormalizeValue(t *testing.T) {
	require.Equal(t, "jane@example.com", normalizeValue([]byte("jane@example.com")))
	require.Equal(t, int64(7), normalizeValue(int64(7)))
	require.Nil(t, normalizeValue(nil))
}

func TestOwnerFromDSN(t *testing.T) {
	require.Equal(t, "scanner", ownerFromDSN("scanner:secret@tcp(localhost:3306)/salesdb"))
	require.Equal(t, "root", ownerFromDSN("root@tcp(db:3306)/inventory?parseTime=true"))

	// No user or unparseable DSN degrades to the unknown sentinel.
	require.Equal(t, scanning.UnknownOwner, ownerFromDSN("tcp(localhost:3306)/salesdb"))
	require.Equal(t, scanning.UnknownOwner, ownerFromDSN("localhost:3306"))
}
