package scanning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScanKind(t *testing.T) {
	for _, kind := range []ScanKind{
		ScanKindImageClassify,
		ScanKindImageMetadata,
		ScanKindDocumentPII,
		ScanKindDBMetadata,
		ScanKindDBFull,
		ScanKindDBTable,
	} {
		got, err := ParseScanKind(string(kind))
		require.NoError(t, err)
		require.Equal(t, kind, got)
	}

	_, err := ParseScanKind("image-clasify")
	require.ErrorIs(t, err, ErrUnknownScanKind)

	_, err = ParseScanKind("")
	require.ErrorIs(t, err, ErrUnknownScanKind)
}
