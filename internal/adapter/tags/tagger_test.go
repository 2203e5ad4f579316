package tags

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsearch/internal/domain"
)

func TestTagger_Rules(t *testing.T) {
	tg := New(nil)

	tests := []struct {
		filename string
		want     domain.Tags
	}{
		{
			filename: "reglamento_cirsoc_301.pdf",
			want:     domain.Tags{OriginStandard: "CIRSOC 301", Language: "es", Topic: "general", Collection: "norma"},
		},
		{
			filename: "a370-21w.pdf",
			want:     domain.Tags{OriginStandard: "ASTM A370", Language: "en", Topic: "materiales acero", Collection: "material"},
		},
		{
			filename: "TS_MOD_2022_en_Create_models.pdf",
			want:     domain.Tags{OriginStandard: "Otro", Language: "en", Topic: "general", Collection: "libro"},
		},
		{
			filename: "tekla-structural-designer-2024.pdf",
			want:     domain.Tags{OriginStandard: "Otro", Language: "es", Topic: "software", Collection: "software"},
		},
		{
			filename: "memoria galpon minero.pdf",
			want:     domain.Tags{OriginStandard: "Otro", Language: "es", Topic: "calculo estructural", Collection: "memoria"},
		},
		{
			filename: "PLIEG-2025-26787713.pdf",
			want:     domain.Tags{OriginStandard: "Otro", Language: "es", Topic: "pliego", Collection: "pliego"},
		},
		{
			filename: "McCormac.pdf",
			want:     domain.Tags{OriginStandard: "Otro", Language: "es", Topic: "general", Collection: "libro"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, tg.Tags(tt.filename))
		})
	}
}

func TestTagger_TableOverridesRules(t *testing.T) {
	tg := New(map[string]domain.Tags{
		"AISI_Acero_Conformado.pdf": {Collection: "libro", Topic: "conformado frio"},
	})

	got := tg.Tags("AISI_Acero_Conformado.pdf")
	assert.Equal(t, "libro", got.Collection)
	assert.Equal(t, "conformado frio", got.Topic)
	// Fields missing from the table still come from the rules.
	assert.Equal(t, "es", got.Language)
	assert.Equal(t, "Otro", got.OriginStandard)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tags.yaml")
	content := `
"manual ahmsa.pdf":
  normaOrigen: AHMSA
  tema: diseño acero
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tg, err := LoadFile(path)
	require.NoError(t, err)

	got := tg.Tags("manual ahmsa.pdf")
	assert.Equal(t, "AHMSA", got.OriginStandard)
	assert.Equal(t, "diseño acero", got.Topic)
	assert.Equal(t, "libro", got.Collection)
}

func TestLoadFile_Missing(t *testing.T) {
	tg, err := LoadFile(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "libro", tg.Tags("x.pdf").Collection)
}
