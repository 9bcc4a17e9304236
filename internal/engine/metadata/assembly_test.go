package metadata

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/errors"
)

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("4.0.30319.42")
	require.NoError(t, err)
	assert.Equal(t, Version{4, 0, 30319, 42}, v)

	v, err = ParseVersion("2.1")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0.0", v.String())

	for _, bad := range []string{"", "1.x", "1.2.3.4.5", "70000"} {
		_, err := ParseVersion(bad)
		assert.True(t, errors.IsCode(err, errors.CodeValidationError), "input %q", bad)
	}
}

func TestVersionCompare(t *testing.T) {
	assert.Equal(t, -1, Version{1, 2, 0, 0}.Compare(Version{1, 10, 0, 0}))
	assert.Equal(t, 0, Version{4, 0, 0, 0}.Compare(Version{4, 0, 0, 0}))
	assert.Equal(t, 1, Version{2, 0, 0, 1}.Compare(Version{2, 0, 0, 0}))
}

func TestParseAssemblyName(t *testing.T) {
	n, err := ParseAssemblyName("System.Core, Version=3.5.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089, Custom=1")
	require.NoError(t, err)
	assert.Equal(t, "System.Core", n.Name)
	assert.Equal(t, Version{3, 5, 0, 0}, n.Version)
	assert.Equal(t, "", n.Culture)
	assert.Equal(t, "b77a5c561934e089", n.TokenString())
	assert.Equal(t, "System.Core, Version=3.5.0.0, Culture=neutral, PublicKeyToken=b77a5c561934e089", n.FullName())

	n, err = ParseAssemblyName("Lib, PublicKeyToken=null, Retargetable=Yes")
	require.NoError(t, err)
	assert.Nil(t, n.PublicKeyToken)
	assert.Equal(t, "null", n.TokenString())
	assert.Contains(t, n.FullName(), "Retargetable=Yes")

	_, err = ParseAssemblyName(", Version=1.0")
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
	_, err = ParseAssemblyName("Lib, PublicKeyToken=zz")
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestSameToken(t *testing.T) {
	key := []byte{0xb7, 0x7a, 0x5c, 0x56, 0x19, 0x34, 0xe0, 0x89}
	cases := []struct {
		name string
		a, b []byte
		want bool
	}{
		{"both absent", nil, nil, true},
		{"both zero length", []byte{}, []byte{}, true},
		{"absent vs zero length", nil, []byte{}, false},
		{"zero length vs absent", []byte{}, nil, false},
		{"equal", key, append([]byte(nil), key...), true},
		{"absent vs present", nil, key, false},
		{"different", key, key[:4], false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &AssemblyName{Name: "Lib", PublicKeyToken: tc.a}
			b := &AssemblyName{Name: "Lib", PublicKeyToken: tc.b}
			assert.Equal(t, tc.want, a.SameToken(b))
		})
	}
}

func TestPublicKeyTokenOf(t *testing.T) {
	// The ECMA standard key maps to the well known framework token.
	ecma, _ := hex.DecodeString("00000000000000000400000000000000")
	assert.Equal(t, "b77a5c561934e089", hex.EncodeToString(PublicKeyTokenOf(ecma)))
	assert.Nil(t, PublicKeyTokenOf(nil))
}

func TestSilverlightDetection(t *testing.T) {
	sl := &AssemblyName{Name: "mscorlib", PublicKeyToken: []byte{0x7c, 0xec, 0x85, 0xd7, 0xbe, 0xa7, 0x79, 0x8e}}
	desktop := &AssemblyName{Name: "mscorlib", PublicKeyToken: []byte{0xb7, 0x7a, 0x5c, 0x56, 0x19, 0x34, 0xe0, 0x89}}
	assert.True(t, HasSilverlightToken(sl))
	assert.False(t, HasSilverlightToken(desktop))

	asm := &Assembly{Name: &AssemblyName{Name: "App"}, Modules: []*Module{{AssemblyReferences: []*AssemblyName{sl}}}}
	assert.True(t, asm.IsSilverlight())
}

func TestArchitectureAndRuntime(t *testing.T) {
	a, ok := ParseArchitecture("AMD64")
	require.True(t, ok)
	assert.Equal(t, ArchAMD64, a)
	assert.Equal(t, "I386", ArchI386.String())
	_, ok = ParseArchitecture("Z80")
	assert.False(t, ok)

	assert.Equal(t, RuntimeNet40, runtimeOf("v4.0.30319"))
	assert.Equal(t, RuntimeNet20, runtimeOf("v2.0.50727"))
	assert.Equal(t, RuntimeNet10, runtimeOf("v1.0.3705"))
	assert.Equal(t, RuntimeNet11, runtimeOf("v1.1.4322"))
}
