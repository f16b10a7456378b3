package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/county-wage-etl/internal/storage/local"
	"github.com/JakeFAU/county-wage-etl/internal/storage/memory"
)

func TestArchivePageIsContentAddressed(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	a, err := New(store, "/pages/")
	require.NoError(t, err)

	body := []byte("<html>county</html>")
	uri, err := a.ArchivePage(context.Background(), "01001", body)
	require.NoError(t, err)

	p, err := a.ObjectPath("01001", body)
	require.NoError(t, err)
	assert.Equal(t, "memory://"+p, uri)
	assert.Regexp(t, `^pages/01/01001/[0-9a-f]{64}\.html$`, p)

	again, err := a.ArchivePage(context.Background(), "01001", body)
	require.NoError(t, err)
	assert.Equal(t, uri, again)

	_, err = a.ArchivePage(context.Background(), "01001", []byte("<html>changed</html>"))
	require.NoError(t, err)
	assert.Len(t, store.Paths(), 2)
}

func TestArchivePageRejectsBadCodes(t *testing.T) {
	t.Parallel()

	a, err := New(memory.NewBlobStore(), "")
	require.NoError(t, err)
	_, err = a.ArchivePage(context.Background(), "../x", []byte("x"))
	require.Error(t, err)
}

func TestArchivePageLocal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	a, err := New(store, "pages")
	require.NoError(t, err)

	uri, err := a.ArchivePage(context.Background(), "13121", []byte("<html/>"))
	require.NoError(t, err)
	p, _ := a.ObjectPath("13121", []byte("<html/>"))
	assert.Equal(t, "file://"+filepath.Join(dir, p), uri)
	assert.FileExists(t, filepath.Join(dir, p))
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "pages")
	require.Error(t, err)
}
