package metadata_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilview/internal/core/errors"
	"ilview/internal/engine/metadata"
	mdt "ilview/internal/engine/metadata/metadatatest"
)

// calculatorImage builds Demo.Calculator with a static Add(int, int), an
// instance constructor, a field with a constant, a property, a generic
// Demo.Pair`2 and an embedded resource.
func calculatorImage(t *testing.T) []byte {
	t.Helper()
	b := mdt.New("Demo", "1.2.3.4")
	object := b.CorlibType("Object")
	objectCtor := b.MemberRef(object, ".ctor", mdt.MethodSig(true, mdt.Void))

	b.DefineType("Demo", "Calculator", metadata.TypePublic|metadata.TypeBeforeFieldInit, object)
	limit := b.DefineField("Limit", metadata.FieldPublic|metadata.FieldStatic|metadata.FieldLiteral, mdt.FieldSig(mdt.I4))
	b.SetConstant(limit, metadata.ElementI4, mdt.Int32Bytes(42))

	add := b.DefineMethod("Add", metadata.MethodPublic|metadata.MethodStatic|metadata.MethodHideBySig,
		mdt.MethodSig(false, mdt.I4, mdt.I4, mdt.I4), "a", "b")
	b.SetBody(add, mdt.Body{Code: b.IL().Op("ldarg.0").Op("ldarg.1").Op("add").Op("ret").Bytes()})

	ctor := b.DefineMethod(".ctor", metadata.MethodPublic|metadata.MethodHideBySig|metadata.MethodSpecialName|metadata.MethodRTSpecialName,
		mdt.MethodSig(true, mdt.Void))
	b.SetBody(ctor, mdt.Body{Code: b.IL().Op("ldarg.0").Op("call", objectCtor).Op("ret").Bytes()})

	greet := b.DefineMethod("Greet", metadata.MethodPublic|metadata.MethodHideBySig, mdt.MethodSig(true, mdt.String))
	locals := b.StandAloneSig(mdt.LocalsSig(mdt.String))
	b.SetBody(greet, mdt.Body{
		Code: b.IL().
			Op("ldstr", "hello \"world\"").
			Op("stloc.0").
			Op("br.s", 8).
			Op("ldloc.0").
			Op("ret").
			Bytes(),
		MaxStack:   1,
		Locals:     locals,
		InitLocals: true,
	})

	getName := b.DefineMethod("get_Name", metadata.MethodPublic|metadata.MethodSpecialName|metadata.MethodHideBySig, mdt.MethodSig(true, mdt.String))
	b.SetBody(getName, mdt.Body{Code: b.IL().Op("ldnull").Op("ret").Bytes()})
	b.DefineProperty("Name", mdt.PropertySig(true, mdt.String), getName, 0)

	pair := b.DefineType("Demo", "Pair`2", metadata.TypePublic, object)
	b.GenericParam(pair, 0, "T")
	b.GenericParam(pair, 1, "U")
	b.DefineField("First", metadata.FieldPublic, mdt.FieldSig(mdt.Var(0)))
	b.DefineField("Second", metadata.FieldPublic, mdt.FieldSig(mdt.Var(1)))

	b.Resource("Demo.Strings.resources", []byte("payload"), true)
	return b.Bytes()
}

func TestLoadImmediate(t *testing.T) {
	asm, err := metadata.Load(bytes.NewReader(calculatorImage(t)))
	require.NoError(t, err)

	assert.Equal(t, "Demo, Version=1.2.3.4, Culture=neutral, PublicKeyToken=null", asm.FullName())
	mod := asm.MainModule()
	require.NotNil(t, mod)
	assert.Equal(t, "Demo.dll", mod.Name)
	assert.Equal(t, "v4.0.30319", mod.RuntimeVersion)
	assert.Equal(t, metadata.RuntimeNet40, mod.Runtime)
	assert.Equal(t, metadata.ArchI386, mod.Architecture)
	assert.Equal(t, metadata.ModuleDll, mod.Kind)
	assert.Equal(t, uuid.MustParse("12345678-1234-5678-0102-030405060708"), mod.Mvid)

	require.Len(t, mod.Types, 3)
	assert.Equal(t, "<Module>", mod.Types[0].Name)

	calc := asm.FindType("Demo.Calculator")
	require.NotNil(t, calc)
	assert.True(t, calc.IsPublic())
	assert.True(t, calc.IsBeforeFieldInit())
	assert.Equal(t, "System.Object", calc.BaseType.FullName())

	add := calc.Method("Add")
	require.NotNil(t, add)
	assert.Equal(t, "System.Int32 Demo.Calculator::Add(System.Int32,System.Int32)", add.FullName())
	require.Len(t, add.Parameters, 2)
	assert.Equal(t, "a", add.Parameters[0].Name)
	assert.Equal(t, "b", add.Parameters[1].String())

	body, err := add.Body()
	require.NoError(t, err)
	require.Len(t, body.Instructions, 4)
	assert.Equal(t, 8, body.MaxStack)
	assert.Equal(t, "IL_0000: ldarg.0", body.Instructions[0].String())
	assert.Equal(t, "IL_0002: add", body.Instructions[2].String())

	limit := calc.Field("Limit")
	require.NotNil(t, limit)
	require.NotNil(t, limit.Constant)
	assert.Equal(t, int32(42), limit.Constant.Value)

	require.Len(t, calc.Properties, 1)
	prop := calc.Properties[0]
	assert.Equal(t, "Name", prop.Name)
	require.NotNil(t, prop.GetMethod)
	assert.True(t, prop.GetMethod.IsGetter())
	assert.Nil(t, prop.SetMethod)

	require.Len(t, mod.Resources, 1)
	data, err := mod.Resources[0].Data()
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.True(t, mod.Resources[0].IsPublic())
}

func TestLoadFatBodyWithLocals(t *testing.T) {
	asm, err := metadata.Load(bytes.NewReader(calculatorImage(t)))
	require.NoError(t, err)
	greet := asm.FindType("Demo.Calculator").Method("Greet")
	require.NotNil(t, greet)

	body, err := greet.Body()
	require.NoError(t, err)
	assert.True(t, body.InitLocals)
	assert.Equal(t, 1, body.MaxStack)
	require.Len(t, body.Variables, 1)
	assert.Equal(t, "System.String", body.Variables[0].VariableType.FullName())

	var lines []string
	for _, ins := range body.Instructions {
		lines = append(lines, ins.String())
	}
	assert.Equal(t, []string{
		`IL_0000: ldstr "hello \"world\""`,
		"IL_0005: stloc.0",
		"IL_0006: br.s IL_0008",
		"IL_0008: ldloc.0",
		"IL_0009: ret",
	}, lines)
}

func TestLoadCallOperandResolvesMemberRef(t *testing.T) {
	asm, err := metadata.Load(bytes.NewReader(calculatorImage(t)))
	require.NoError(t, err)
	ctor := asm.FindType("Demo.Calculator").Method(".ctor")
	require.NotNil(t, ctor)
	assert.True(t, ctor.IsConstructor())

	body, err := ctor.Body()
	require.NoError(t, err)
	require.Len(t, body.Instructions, 3)
	assert.Nil(t, body.Instructions[0].Operand)
	call := body.Instructions[1]
	ref, ok := call.Operand.(*metadata.MethodReference)
	require.True(t, ok)
	assert.Equal(t, "System.Void System.Object::.ctor()", ref.FullName())
}

func TestLoadGenericType(t *testing.T) {
	asm, err := metadata.Load(bytes.NewReader(calculatorImage(t)))
	require.NoError(t, err)
	pair := asm.FindType("Demo.Pair`2")
	require.NotNil(t, pair)
	require.Len(t, pair.GenericParameters, 2)
	assert.Equal(t, "Pair<T, U>", metadata.ShortTypeName(pair))
	assert.Equal(t, "T", pair.Field("First").FieldType.FullName())
	assert.Equal(t, "U", pair.Field("Second").FieldType.FullName())
}

func TestLoadLazyDefersBodies(t *testing.T) {
	asm, err := metadata.Load(bytes.NewReader(calculatorImage(t)), metadata.WithMode(metadata.ModeLazy))
	require.NoError(t, err)
	add := asm.FindType("Demo.Calculator").Method("Add")
	require.NotNil(t, add)
	body, err := add.Body()
	require.NoError(t, err)
	assert.Len(t, body.Instructions, 4)
}

func TestLoadLazyWithoutReaderAtFallsBack(t *testing.T) {
	r := struct{ *bytes.Buffer }{bytes.NewBuffer(calculatorImage(t))}
	asm, err := metadata.Load(r, metadata.WithMode(metadata.ModeLazy))
	require.NoError(t, err)
	assert.NotNil(t, asm.FindType("Demo.Calculator"))
}

func TestLoadFileRecordsLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Demo.dll")
	require.NoError(t, os.WriteFile(path, calculatorImage(t), 0o644))

	asm, err := metadata.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, asm.Location)

	_, err = metadata.LoadFile(filepath.Join(t.TempDir(), "missing.dll"))
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestLoadRejectsMalformedImages(t *testing.T) {
	valid := calculatorImage(t)
	noRoot := bytes.Replace(append([]byte(nil), valid...), []byte("BSJB"), []byte("XXXX"), 1)

	cases := map[string][]byte{
		"empty":       nil,
		"garbage":     []byte("this is not a portable executable"),
		"truncated":   valid[:0x210],
		"no metadata": noRoot,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := metadata.Load(bytes.NewReader(data))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeFormat), "got %v", err)
		})
	}
}

func TestLoadRequiresAssemblyManifest(t *testing.T) {
	b := mdt.New("NetModule", "1.0.0.0")
	b.RemoveAssembly()
	_, err := metadata.Load(bytes.NewReader(b.Bytes()))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFormat))
}

func TestLoadInvalidBodyHeader(t *testing.T) {
	b := mdt.New("Broken", "1.0.0.0")
	b.DefineType("", "C", metadata.TypePublic, b.CorlibType("Object"))
	m := b.DefineMethod("M", metadata.MethodPublic|metadata.MethodStatic, mdt.MethodSig(false, mdt.Void))
	b.SetRawBody(m, []byte{0x00, 0x00})
	data := b.Bytes()

	_, err := metadata.Load(bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFormat))

	// Lazy loads succeed and report the error on first access.
	asm, err := metadata.Load(bytes.NewReader(data), metadata.WithMode(metadata.ModeLazy))
	require.NoError(t, err)
	_, err = asm.FindType("C").Method("M").Body()
	assert.True(t, errors.IsCode(err, errors.CodeFormat))
}

func TestLoadTruncatedCode(t *testing.T) {
	b := mdt.New("Broken", "1.0.0.0")
	b.DefineType("", "C", metadata.TypePublic, b.CorlibType("Object"))
	m := b.DefineMethod("M", metadata.MethodPublic|metadata.MethodStatic, mdt.MethodSig(false, mdt.Void))
	// ldc.i4 with a two byte operand
	b.SetBody(m, mdt.Body{Code: []byte{0x20, 0x01, 0x02}})

	_, err := metadata.Load(bytes.NewReader(b.Bytes()))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeFormat))
}

func TestLoadExceptionHandlers(t *testing.T) {
	b := mdt.New("Handlers", "1.0.0.0")
	exception := b.CorlibType("Exception")
	b.DefineType("", "C", metadata.TypePublic, b.CorlibType("Object"))
	m := b.DefineMethod("M", metadata.MethodPublic|metadata.MethodStatic, mdt.MethodSig(false, mdt.Void))
	code := b.IL().
		Op("nop").
		Op("leave.s", 6).
		Op("pop").
		Op("leave.s", 6).
		Op("ret").
		Bytes()
	b.SetBody(m, mdt.Body{
		Code:     code,
		MaxStack: 1,
		Handlers: []mdt.Handler{{Kind: 0, TryStart: 0, TryLength: 3, HandlerStart: 3, HandlerLength: 3, Token: exception}},
	})

	asm, err := metadata.Load(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	body, err := asm.FindType("C").Method("M").Body()
	require.NoError(t, err)
	require.Len(t, body.ExceptionHandlers, 1)
	h := body.ExceptionHandlers[0]
	assert.Equal(t, metadata.HandlerCatch, h.Kind)
	assert.Equal(t, 3, h.TryEnd)
	assert.Equal(t, 6, h.HandlerEnd)
	assert.Equal(t, "System.Exception", h.CatchType.FullName())
}

func TestLoadNestedTypes(t *testing.T) {
	b := mdt.New("Nesting", "1.0.0.0")
	object := b.CorlibType("Object")
	outer := b.DefineType("Outer.Space", "Outer", metadata.TypePublic, object)
	inner := b.DefineType("", "Inner", metadata.TypeNestedPublic, object)
	b.Nest(inner, outer)

	asm, err := metadata.Load(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	mod := asm.MainModule()
	require.Len(t, mod.Types, 2, "nested types are not top level")
	o := asm.FindType("Outer.Space.Outer")
	require.NotNil(t, o)
	in := o.Nested("Inner")
	require.NotNil(t, in)
	assert.Equal(t, "Outer.Space.Outer/Inner", in.FullName())
	assert.Equal(t, "Outer.Space", metadata.NamespaceOf(in))
	assert.Len(t, mod.AllTypes(), 3)
}

func TestLoadEntryPointAndConsoleKind(t *testing.T) {
	b := mdt.New("App", "1.0.0.0")
	b.SetMachine(0x8664, false)
	b.DefineType("", "Program", 0, b.CorlibType("Object"))
	main := b.DefineMethod("Main", metadata.MethodStatic, mdt.MethodSig(false, mdt.Void))
	b.SetBody(main, mdt.Body{Code: []byte{0x2a}})
	b.SetEntryPoint(main)

	asm, err := metadata.Load(bytes.NewReader(b.Bytes()))
	require.NoError(t, err)
	mod := asm.MainModule()
	require.NotNil(t, mod.EntryPoint)
	assert.Equal(t, "Main", mod.EntryPoint.Name)
	assert.Equal(t, metadata.ModuleConsole, mod.Kind)
	assert.Equal(t, metadata.ArchAMD64, mod.Architecture)
}
