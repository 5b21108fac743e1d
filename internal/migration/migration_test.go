package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karhin20/flowback/internal/domain/template"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, "migrations/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(embeddedMigrations, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestTemplateSeedMatchesDefaults(t *testing.T) {
	seed, err := fs.ReadFile(embeddedMigrations, "migrations/000003_message_templates.up.sql")
	require.NoError(t, err)

	for _, tpl := range template.Defaults() {
		assert.Contains(t, string(seed), "'"+tpl.Body+"'", string(tpl.Action))
	}
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}
