package assemblies_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/errors"
	"ilview/internal/data/assemblies"
	"ilview/internal/engine/metadata"
	mdt "ilview/internal/engine/metadata/metadatatest"
)

func image(name, version string) []byte {
	b := mdt.New(name, version)
	b.DefineType(name, "Thing", metadata.TypePublic, b.CorlibType("Object"))
	return b.Bytes()
}

func loadMem(t *testing.T, name, version string) *metadata.Assembly {
	t.Helper()
	asm, err := assemblies.Load(assemblies.MemorySource{Label: name, Data: image(name, version)})
	require.NoError(t, err)
	return asm
}

func TestCacheAddReplacesSameFullName(t *testing.T) {
	c := assemblies.NewCache()
	var events []string
	c.Subscribe(func(kind assemblies.EventKind, asm *metadata.Assembly) {
		events = append(events, kind.String()+" "+asm.Name.Name)
	})

	first := loadMem(t, "Lib", "1.0.0.0")
	c.Add(first)
	c.Add(first)
	assert.Equal(t, 1, c.Len())

	again := loadMem(t, "Lib", "1.0.0.0")
	c.Add(again)
	require.Equal(t, 1, c.Len())
	assert.Same(t, again, c.All()[0])

	other := loadMem(t, "Lib", "2.0.0.0")
	c.Add(other)
	assert.Len(t, c.FindByName("lib"), 2)
	assert.Same(t, other, c.Find("Lib, Version=2.0.0.0, Culture=neutral, PublicKeyToken=null"))
	assert.Nil(t, c.Find("lib, Version=2.0.0.0, Culture=neutral, PublicKeyToken=null"))

	assert.True(t, c.Remove(first))
	assert.False(t, c.Remove(first))
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, []string{"added Lib", "added Lib", "added Lib", "removed Lib"}, events)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Lib.dll")
	require.NoError(t, os.WriteFile(path, image("Lib", "1.0.0.0"), 0o644))

	asm, err := assemblies.Load(assemblies.FileSource{Path: path})
	require.NoError(t, err)
	assert.Equal(t, path, asm.Location)

	_, err = assemblies.Load(assemblies.FileSource{Path: filepath.Join(t.TempDir(), "missing.dll")})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := assemblies.Load(assemblies.MemorySource{Label: "junk", Data: []byte("MZ nope")})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFormat))
	var de *errors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "junk", de.Context[errors.CtxPath])
}
