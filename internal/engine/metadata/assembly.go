package metadata

import (
	"bytes"
	"crypto/sha1"
	"debug/pe"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ilview/internal/core/errors"
)

// Version is a four-part assembly version.
type Version struct {
	Major    uint16
	Minor    uint16
	Build    uint16
	Revision uint16
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// Compare orders versions numerically, part by part.
func (v Version) Compare(o Version) int {
	a := [4]uint16{v.Major, v.Minor, v.Build, v.Revision}
	b := [4]uint16{o.Major, o.Minor, o.Build, o.Revision}
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// ParseVersion accepts one to four dot-separated parts; missing parts are zero.
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 4 || parts[0] == "" {
		return v, errors.Newf(errors.CodeValidationError, "invalid version %q", s)
	}
	dst := []*uint16{&v.Major, &v.Minor, &v.Build, &v.Revision}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Version{}, errors.Wrap(err, errors.CodeValidationError, fmt.Sprintf("invalid version %q", s))
		}
		*dst[i] = uint16(n)
	}
	return v, nil
}

// AssemblyName identifies an assembly definition or reference.
// A nil PublicKeyToken means the token is absent; an empty non-nil token
// was present in metadata with zero length.
type AssemblyName struct {
	Name           string
	Version        Version
	Culture        string
	PublicKey      []byte
	PublicKeyToken []byte
	Flags          AssemblyFlags
	HashAlgorithm  HashAlgorithm
	Hash           []byte
}

func (n *AssemblyName) ScopeName() string { return n.Name }

func (n *AssemblyName) HasPublicKey() bool { return len(n.PublicKey) > 0 }

// TokenString is the lower-case hex token, or "null" when there is none.
func (n *AssemblyName) TokenString() string {
	if len(n.PublicKeyToken) == 0 {
		return "null"
	}
	return hex.EncodeToString(n.PublicKeyToken)
}

// SameToken reports whether both names carry the same token. An absent
// token only matches another absent one, never a zero-length token.
func (n *AssemblyName) SameToken(o *AssemblyName) bool {
	if (n.PublicKeyToken == nil) != (o.PublicKeyToken == nil) {
		return false
	}
	return bytes.Equal(n.PublicKeyToken, o.PublicKeyToken)
}

func (n *AssemblyName) CultureString() string {
	if n.Culture == "" {
		return "neutral"
	}
	return n.Culture
}

func (n *AssemblyName) FullName() string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteString(", Version=")
	b.WriteString(n.Version.String())
	b.WriteString(", Culture=")
	b.WriteString(n.CultureString())
	b.WriteString(", PublicKeyToken=")
	b.WriteString(n.TokenString())
	if n.Flags&AssemblyRetargetable != 0 {
		b.WriteString(", Retargetable=Yes")
	}
	return b.String()
}

func (n *AssemblyName) String() string { return n.FullName() }

// PublicKeyTokenOf derives the eight byte token from a full public key.
func PublicKeyTokenOf(key []byte) []byte {
	if len(key) == 0 {
		return nil
	}
	sum := sha1.Sum(key)
	token := make([]byte, 8)
	for i := 0; i < 8; i++ {
		token[i] = sum[len(sum)-1-i]
	}
	return token
}

// ParseAssemblyName parses "Name, Version=..., Culture=..., PublicKeyToken=...".
// Unknown keys are ignored.
func ParseAssemblyName(s string) (*AssemblyName, error) {
	parts := strings.Split(s, ",")
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return nil, errors.Newf(errors.CodeValidationError, "empty assembly name in %q", s)
	}
	n := &AssemblyName{Name: name}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, errors.Newf(errors.CodeValidationError, "malformed assembly name part %q", p)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "version":
			v, err := ParseVersion(value)
			if err != nil {
				return nil, err
			}
			n.Version = v
		case "culture":
			if !strings.EqualFold(value, "neutral") {
				n.Culture = value
			}
		case "publickeytoken":
			if strings.EqualFold(value, "null") {
				n.PublicKeyToken = nil
				continue
			}
			token, err := hex.DecodeString(value)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeValidationError, "invalid public key token")
			}
			n.PublicKeyToken = token
		case "retargetable":
			if strings.EqualFold(value, "yes") {
				n.Flags |= AssemblyRetargetable
			}
		}
	}
	return n, nil
}

// Assembly is a loaded assembly image.
type Assembly struct {
	Name             *AssemblyName
	Modules          []*Module
	CustomAttributes []*CustomAttribute
	// Location is the file the assembly was loaded from, if any.
	Location string
}

// MainModule is the first module; nil for a nil or module-less assembly.
func (a *Assembly) MainModule() *Module {
	if a == nil || len(a.Modules) == 0 {
		return nil
	}
	return a.Modules[0]
}

func (a *Assembly) FullName() string { return a.Name.FullName() }

func (a *Assembly) String() string { return a.FullName() }

// FindType looks up a type by its full name across every module.
func (a *Assembly) FindType(fullName string) *TypeDefinition {
	for _, m := range a.Modules {
		if t := m.FindType(fullName); t != nil {
			return t
		}
	}
	return nil
}

// silverlightToken is the public key token of the Silverlight core library.
var silverlightToken = []byte{0x7c, 0xec, 0x85, 0xd7, 0xbe, 0xa7, 0x79, 0x8e}

// HasSilverlightToken reports whether n carries the Silverlight corlib token.
func HasSilverlightToken(n *AssemblyName) bool {
	return n != nil && string(n.PublicKeyToken) == string(silverlightToken)
}

// IsSilverlight reports whether the assembly is, or references, the Silverlight mscorlib.
func (a *Assembly) IsSilverlight() bool {
	if a == nil || a.Name == nil {
		return false
	}
	if strings.EqualFold(a.Name.Name, "mscorlib") {
		return HasSilverlightToken(a.Name)
	}
	if m := a.MainModule(); m != nil {
		return HasSilverlightToken(m.CorlibReference())
	}
	return false
}

type ModuleKind int

const (
	ModuleDll ModuleKind = iota
	ModuleConsole
	ModuleWindows
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleConsole:
		return "Console"
	case ModuleWindows:
		return "Windows"
	}
	return "Dll"
}

// Architecture is the target machine of the image.
type Architecture int

const (
	ArchI386 Architecture = iota
	ArchAMD64
	ArchIA64
	ArchARM
	ArchARMv7
	ArchARM64
)

var architectureNames = [...]string{"I386", "AMD64", "IA64", "ARM", "ARMv7", "ARM64"}

func (a Architecture) String() string {
	if int(a) < len(architectureNames) {
		return architectureNames[a]
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}

// ParseArchitecture maps a name produced by String back to its value.
func ParseArchitecture(s string) (Architecture, bool) {
	for i, n := range architectureNames {
		if strings.EqualFold(n, s) {
			return Architecture(i), true
		}
	}
	return 0, false
}

func architectureOf(machine uint16) Architecture {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return ArchAMD64
	case pe.IMAGE_FILE_MACHINE_IA64:
		return ArchIA64
	case pe.IMAGE_FILE_MACHINE_ARM:
		return ArchARM
	case pe.IMAGE_FILE_MACHINE_ARMNT:
		return ArchARMv7
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return ArchARM64
	}
	return ArchI386
}

// TargetRuntime is the CLR generation the module was built against.
type TargetRuntime int

const (
	RuntimeNet10 TargetRuntime = iota
	RuntimeNet11
	RuntimeNet20
	RuntimeNet40
)

var runtimeNames = [...]string{"Net_1_0", "Net_1_1", "Net_2_0", "Net_4_0"}

func (r TargetRuntime) String() string {
	if int(r) < len(runtimeNames) {
		return runtimeNames[r]
	}
	return fmt.Sprintf("TargetRuntime(%d)", int(r))
}

func runtimeOf(version string) TargetRuntime {
	if len(version) < 2 {
		return RuntimeNet40
	}
	switch version[1] {
	case '1':
		if len(version) > 3 && version[3] == '0' {
			return RuntimeNet10
		}
		return RuntimeNet11
	case '2':
		return RuntimeNet20
	}
	return RuntimeNet40
}

// ModuleReference names another module of a multi-module assembly.
type ModuleReference struct {
	Name  string
	Token Token
}

func (m *ModuleReference) ScopeName() string { return m.Name }

// Module is one module of an assembly; the first is the manifest module.
type Module struct {
	Name           string
	Mvid           uuid.UUID
	Assembly       *Assembly
	Kind           ModuleKind
	Architecture   Architecture
	RuntimeVersion string
	Runtime        TargetRuntime
	Attributes     ModuleAttributes

	Types              []*TypeDefinition
	AssemblyReferences []*AssemblyName
	ModuleReferences   []*ModuleReference
	Resources          []*Resource
	CustomAttributes   []*CustomAttribute
	EntryPoint         *MethodDefinition

	typeIndex map[string]*TypeDefinition
	tokens    map[Token]interface{}
}

func (m *Module) ScopeName() string { return m.Name }

func (m *Module) String() string { return m.Name }

// AllTypes returns every type of the module, nested types after their
// declaring type.
func (m *Module) AllTypes() []*TypeDefinition {
	var out []*TypeDefinition
	var walk func([]*TypeDefinition)
	walk = func(ts []*TypeDefinition) {
		for _, t := range ts {
			out = append(out, t)
			walk(t.NestedTypes)
		}
	}
	walk(m.Types)
	return out
}

// FindType looks up a type by full name, using "/" for nested types.
func (m *Module) FindType(fullName string) *TypeDefinition {
	if m.typeIndex == nil {
		m.typeIndex = make(map[string]*TypeDefinition)
		for _, t := range m.AllTypes() {
			m.typeIndex[t.FullName()] = t
		}
	}
	return m.typeIndex[fullName]
}

// LookupToken returns the entity a metadata token was read into, or nil.
func (m *Module) LookupToken(t Token) interface{} { return m.tokens[t] }

// IsCorlib reports whether this module defines System.Object.
func (m *Module) IsCorlib() bool {
	return m.FindType("System.Object") != nil
}

// CorlibReference returns the reference to mscorlib, System.Runtime or
// netstandard, whichever the module uses first.
func (m *Module) CorlibReference() *AssemblyName {
	for _, r := range m.AssemblyReferences {
		switch r.Name {
		case "mscorlib", "System.Runtime", "netstandard", "System.Private.CoreLib":
			return r
		}
	}
	return nil
}

// ResourceKind distinguishes where a manifest resource lives.
type ResourceKind int

const (
	ResourceEmbedded ResourceKind = iota
	ResourceLinked
	ResourceAssemblyLinked
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceLinked:
		return "linked"
	case ResourceAssemblyLinked:
		return "assembly-linked"
	}
	return "embedded"
}

// Resource is a manifest resource. Only embedded resources carry data.
type Resource struct {
	Name       string
	Kind       ResourceKind
	Attributes ManifestResourceAttributes
	File       string
	Assembly   *AssemblyName

	once sync.Once
	load func() ([]byte, error)
	data []byte
	err  error
}

func (r *Resource) IsPublic() bool { return r.Attributes&ResourcePublic != 0 }

// Data returns the payload of an embedded resource, reading it on first use
// for lazily loaded modules.
func (r *Resource) Data() ([]byte, error) {
	r.once.Do(func() {
		if r.load != nil {
			r.data, r.err = r.load()
			r.load = nil
		}
	})
	return r.data, r.err
}

// mvidOf converts a metadata GUID (little-endian first three fields) to a UUID.
func mvidOf(g [16]byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], g[:])
	u[0], u[1], u[2], u[3] = g[3], g[2], g[1], g[0]
	u[4], u[5] = g[5], g[4]
	u[6], u[7] = g[7], g[6]
	return u
}
