package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDoValidateValid(t *testing.T) {
	path := writeConfig(t, `
output_base_dir: ./downloads
page_size: 100
providers:
  gelbooru:
    base_url: https://gelbooru.com
  yandere:
    base_url: https://yande.re
`)
	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "OK: [gelbooru]")
	assert.Contains(t, stdout.String(), "OK: [yandere]")
	assert.Contains(t, stdout.String(), "Configuration valid.")
	assert.Empty(t, stderr.String())
}

func TestDoValidateWarnings(t *testing.T) {
	path := writeConfig(t, `
page_size: 500
providers:
  gelbooru: {}
`)
	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "WARN:")
}

func TestDoValidateInvalidProviderURL(t *testing.T) {
	path := writeConfig(t, `
providers:
  gelbooru:
    base_url: not-a-url
`)
	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "ERROR:")
}

func TestDoValidateUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  imageboard9000:
    base_url: https://example.org
`)
	var stdout, stderr bytes.Buffer
	code := doValidate(path, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "unknown provider")
}

func TestDoValidateMissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doValidate(filepath.Join(t.TempDir(), "nope.yaml"), &stdout, &stderr)
	assert.Equal(t, 1, code)
}
