package execmodel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/mokuro-online/internal/ocr"
	"github.com/marmos91/mokuro-online/internal/ocr/execmodel"
)

func TestRunParsesJSONStdout(t *testing.T) {
	m := execmodel.New("sh", "-c", `echo '{"lines":["hi"]}'`)
	out, err := m.Run(context.Background(), "/tmp/unused.png")
	require.NoError(t, err)
	require.JSONEq(t, `{"lines":["hi"]}`, string(out))
}

func TestRunRejectsNonJSONStdout(t *testing.T) {
	m := execmodel.New("sh", "-c", `echo 'not json'`)
	_, err := m.Run(context.Background(), "/tmp/unused.png")
	require.Error(t, err)
}

func TestRunRemapsUnsupportedImageStderr(t *testing.T) {
	m := execmodel.New("sh", "-c", `echo "cannot identify image file" 1>&2; exit 1`)
	_, err := m.Run(context.Background(), "/tmp/unused.png")
	require.True(t, errors.Is(err, ocr.ErrUnsupportedImage))
}

func TestRunPropagatesOtherFailures(t *testing.T) {
	m := execmodel.New("sh", "-c", `echo "disk full" 1>&2; exit 1`)
	_, err := m.Run(context.Background(), "/tmp/unused.png")
	require.Error(t, err)
	require.False(t, errors.Is(err, ocr.ErrUnsupportedImage))
}

func TestLoaderFailsWithoutCommand(t *testing.T) {
	loader := execmodel.Loader("")
	_, err := loader(context.Background())
	require.Error(t, err)
}

func TestLoaderResolvesModel(t *testing.T) {
	loader := execmodel.Loader("sh", "-c", `echo '{}'`)
	model, err := loader(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)
}
