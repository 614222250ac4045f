package classes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/onero/internal/common"
	"github.com/ternarybob/onero/internal/models"
)

const tomlDescriptor = `
name = "http-get"
display_name = "HTTP GET"
description = "Issues GET requests against a target URL"
category = "http"

[[parameters]]
name = "url"
type = "string"
required = true

[[parameters]]
name = "method"
type = "choice"
choices = ["GET", "HEAD"]
default = "GET"
`

const yamlDescriptor = `
name: ldap-search
display_name: LDAP Search
category: directory
parameters:
  - name: base_dn
    type: string
    required: true
  - name: scope
    type: choice
    choices: [base, one, sub]
    default: sub
`

func writeDescriptor(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	r, err := NewRegistry(&common.ClassesConfig{Dir: dir}, arbor.NewLogger())
	require.NoError(t, err)
	return r
}

func TestLoadsTomlAndYamlDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "http_get.toml", tomlDescriptor)
	writeDescriptor(t, dir, "ldap_search.yaml", yamlDescriptor)

	r := newTestRegistry(t, dir)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "http-get", list[0].Name)
	assert.Equal(t, "ldap-search", list[1].Name)

	httpGet := r.Get("http-get")
	require.NotNil(t, httpGet)
	require.Len(t, httpGet.Parameters, 2)
	assert.Equal(t, models.ParameterTypeChoice, httpGet.Parameters[1].Type)
	assert.Equal(t, []string{"GET", "HEAD"}, httpGet.Parameters[1].Choices)

	ldap := r.Get("ldap-search")
	require.NotNil(t, ldap)
	assert.True(t, ldap.Parameters[0].Required)
}

func TestMalformedDescriptorSkipped(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "good.toml", tomlDescriptor)
	writeDescriptor(t, dir, "broken.toml", "name = [not toml")
	writeDescriptor(t, dir, "unnamed.yaml", "display_name: no name here")

	r := newTestRegistry(t, dir)
	assert.Len(t, r.List(), 1, "only the valid descriptor loads")
}

func TestMissingDirectoryIsEmpty(t *testing.T) {
	r := newTestRegistry(t, filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Empty(t, r.List())
	assert.Nil(t, r.Get("anything"))
}

func TestReloadPicksUpNewDescriptors(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)
	assert.Empty(t, r.List())

	writeDescriptor(t, dir, "http_get.toml", tomlDescriptor)
	require.NoError(t, r.Reload())
	assert.NotNil(t, r.Get("http-get"))
}

func TestParameterValidationAgainstClass(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "http_get.toml", tomlDescriptor)
	r := newTestRegistry(t, dir)

	class := r.Get("http-get")
	require.NotNil(t, class)

	assert.NoError(t, models.ValidateParameterValues(class.Parameters, map[string]string{
		"url": "http://localhost:8080/", "method": "HEAD",
	}))
	assert.Error(t, models.ValidateParameterValues(class.Parameters, map[string]string{
		"method": "GET",
	}), "required url missing")
	assert.Error(t, models.ValidateParameterValues(class.Parameters, map[string]string{
		"url": "http://localhost/", "method": "POST",
	}), "POST is not an allowed choice")
	assert.Error(t, models.ValidateParameterValues(class.Parameters, map[string]string{
		"url": "http://localhost/", "verb": "GET",
	}), "unknown parameter name")
}
