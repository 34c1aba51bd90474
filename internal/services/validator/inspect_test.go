package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/testutil"
)

func TestInspectCountsPages(t *testing.T) {
	s, err := NewInspector(0).Inspect(testutil.BuildPDF("one", "two", "three"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.PageCount)
}

func TestInspectEnforcesPageLimit(t *testing.T) {
	_, err := NewInspector(2).Inspect(testutil.BuildPDF("a", "b", "c"))
	require.Error(t, err)
	assert.Equal(t, docerr.TooLarge, docerr.KindOf(err))
}

func TestInspectRejectsBrokenStructure(t *testing.T) {
	data := testutil.BuildPDF("a")
	// Keep the header, destroy everything after it.
	broken := append([]byte(nil), data[:20]...)
	for i := 0; i < 2000; i++ {
		broken = append(broken, 'x')
	}

	_, err := NewInspector(0).Inspect(broken)
	require.Error(t, err)
	assert.Equal(t, docerr.CorruptedFile, docerr.KindOf(err))
}
