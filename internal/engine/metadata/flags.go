package metadata

// TypeAttributes (ECMA-335 II.23.1.15).
type TypeAttributes uint32

const (
	TypeVisibilityMask    TypeAttributes = 0x00000007
	TypeNotPublic         TypeAttributes = 0x00000000
	TypePublic            TypeAttributes = 0x00000001
	TypeNestedPublic      TypeAttributes = 0x00000002
	TypeNestedPrivate     TypeAttributes = 0x00000003
	TypeNestedFamily      TypeAttributes = 0x00000004
	TypeNestedAssembly    TypeAttributes = 0x00000005
	TypeNestedFamANDAssem TypeAttributes = 0x00000006
	TypeNestedFamORAssem  TypeAttributes = 0x00000007
	TypeLayoutMask        TypeAttributes = 0x00000018
	TypeAutoLayout        TypeAttributes = 0x00000000
	TypeSequentialLayout  TypeAttributes = 0x00000008
	TypeExplicitLayout    TypeAttributes = 0x00000010
	TypeInterface         TypeAttributes = 0x00000020
	TypeAbstract          TypeAttributes = 0x00000080
	TypeSealed            TypeAttributes = 0x00000100
	TypeSpecialName       TypeAttributes = 0x00000400
	TypeRTSpecialName     TypeAttributes = 0x00000800
	TypeImport            TypeAttributes = 0x00001000
	TypeSerializable      TypeAttributes = 0x00002000
	TypeStringFormatMask  TypeAttributes = 0x00030000
	TypeAnsiClass         TypeAttributes = 0x00000000
	TypeUnicodeClass      TypeAttributes = 0x00010000
	TypeAutoClass         TypeAttributes = 0x00020000
	TypeBeforeFieldInit   TypeAttributes = 0x00100000
	TypeHasSecurity       TypeAttributes = 0x00040000
)

func (a TypeAttributes) visibility() TypeAttributes { return a & TypeVisibilityMask }

// MethodAttributes (ECMA-335 II.23.1.10).
type MethodAttributes uint16

const (
	MethodMemberAccessMask MethodAttributes = 0x0007
	MethodPrivateScope     MethodAttributes = 0x0000
	MethodPrivate          MethodAttributes = 0x0001
	MethodFamANDAssem      MethodAttributes = 0x0002
	MethodAssembly         MethodAttributes = 0x0003
	MethodFamily           MethodAttributes = 0x0004
	MethodFamORAssem       MethodAttributes = 0x0005
	MethodPublic           MethodAttributes = 0x0006
	MethodStatic           MethodAttributes = 0x0010
	MethodFinal            MethodAttributes = 0x0020
	MethodVirtual          MethodAttributes = 0x0040
	MethodHideBySig        MethodAttributes = 0x0080
	MethodNewSlot          MethodAttributes = 0x0100
	MethodStrict           MethodAttributes = 0x0200
	MethodAbstract         MethodAttributes = 0x0400
	MethodSpecialName      MethodAttributes = 0x0800
	MethodRTSpecialName    MethodAttributes = 0x1000
	MethodPInvokeImpl      MethodAttributes = 0x2000
	MethodHasSecurity      MethodAttributes = 0x4000
	MethodRequireSecObject MethodAttributes = 0x8000
)

// MethodImplAttributes (ECMA-335 II.23.1.11).
type MethodImplAttributes uint16

const (
	MethodImplCodeTypeMask   MethodImplAttributes = 0x0003
	MethodImplIL             MethodImplAttributes = 0x0000
	MethodImplNative         MethodImplAttributes = 0x0001
	MethodImplOPTIL          MethodImplAttributes = 0x0002
	MethodImplRuntime        MethodImplAttributes = 0x0003
	MethodImplManagedMask    MethodImplAttributes = 0x0004
	MethodImplUnmanaged      MethodImplAttributes = 0x0004
	MethodImplManaged        MethodImplAttributes = 0x0000
	MethodImplForwardRef     MethodImplAttributes = 0x0010
	MethodImplPreserveSig    MethodImplAttributes = 0x0080
	MethodImplInternalCall   MethodImplAttributes = 0x1000
	MethodImplSynchronized   MethodImplAttributes = 0x0020
	MethodImplNoInlining     MethodImplAttributes = 0x0008
	MethodImplNoOptimization MethodImplAttributes = 0x0040
)

// MethodSemanticsAttributes (ECMA-335 II.23.1.12).
type MethodSemanticsAttributes uint16

const (
	SemanticsSetter   MethodSemanticsAttributes = 0x0001
	SemanticsGetter   MethodSemanticsAttributes = 0x0002
	SemanticsOther    MethodSemanticsAttributes = 0x0004
	SemanticsAddOn    MethodSemanticsAttributes = 0x0008
	SemanticsRemoveOn MethodSemanticsAttributes = 0x0010
	SemanticsFire     MethodSemanticsAttributes = 0x0020
)

// FieldAttributes (ECMA-335 II.23.1.5).
type FieldAttributes uint16

const (
	FieldAccessMask      FieldAttributes = 0x0007
	FieldPrivateScope    FieldAttributes = 0x0000
	FieldPrivate         FieldAttributes = 0x0001
	FieldFamANDAssem     FieldAttributes = 0x0002
	FieldAssembly        FieldAttributes = 0x0003
	FieldFamily          FieldAttributes = 0x0004
	FieldFamORAssem      FieldAttributes = 0x0005
	FieldPublic          FieldAttributes = 0x0006
	FieldStatic          FieldAttributes = 0x0010
	FieldInitOnly        FieldAttributes = 0x0020
	FieldLiteral         FieldAttributes = 0x0040
	FieldNotSerialized   FieldAttributes = 0x0080
	FieldHasFieldRVA     FieldAttributes = 0x0100
	FieldSpecialName     FieldAttributes = 0x0200
	FieldRTSpecialName   FieldAttributes = 0x0400
	FieldHasFieldMarshal FieldAttributes = 0x1000
	FieldPInvokeImpl     FieldAttributes = 0x2000
	FieldHasDefault      FieldAttributes = 0x8000
)

type PropertyAttributes uint16

const (
	PropertySpecialName   PropertyAttributes = 0x0200
	PropertyRTSpecialName PropertyAttributes = 0x0400
	PropertyHasDefault    PropertyAttributes = 0x1000
)

type EventAttributes uint16

const (
	EventSpecialName   EventAttributes = 0x0200
	EventRTSpecialName EventAttributes = 0x0400
)

type ParameterAttributes uint16

const (
	ParamIn              ParameterAttributes = 0x0001
	ParamOut             ParameterAttributes = 0x0002
	ParamOptional        ParameterAttributes = 0x0010
	ParamHasDefault      ParameterAttributes = 0x1000
	ParamHasFieldMarshal ParameterAttributes = 0x2000
)

type GenericParameterAttributes uint16

const (
	GenericVarianceMask                   GenericParameterAttributes = 0x0003
	GenericCovariant                      GenericParameterAttributes = 0x0001
	GenericContravariant                  GenericParameterAttributes = 0x0002
	GenericReferenceTypeConstraint        GenericParameterAttributes = 0x0004
	GenericNotNullableValueTypeConstraint GenericParameterAttributes = 0x0008
	GenericDefaultConstructorConstraint   GenericParameterAttributes = 0x0010
)

// AssemblyFlags (ECMA-335 II.23.1.2).
type AssemblyFlags uint32

const (
	AssemblyPublicKey                  AssemblyFlags = 0x0001
	AssemblyRetargetable               AssemblyFlags = 0x0100
	AssemblyDisableJITcompileOptimizer AssemblyFlags = 0x4000
	AssemblyEnableJITcompileTracking   AssemblyFlags = 0x8000
)

// HashAlgorithm is the AssemblyHashAlgorithm id.
type HashAlgorithm uint32

const (
	HashNone   HashAlgorithm = 0x0000
	HashMD5    HashAlgorithm = 0x8003
	HashSHA1   HashAlgorithm = 0x8004
	HashSHA256 HashAlgorithm = 0x800C
)

// ManifestResourceAttributes (ECMA-335 II.23.1.9).
type ManifestResourceAttributes uint32

const (
	ResourcePublic  ManifestResourceAttributes = 0x0001
	ResourcePrivate ManifestResourceAttributes = 0x0002
)

// ModuleAttributes are the CLI header runtime flags.
type ModuleAttributes uint32

const (
	ModuleILOnly           ModuleAttributes = 0x00000001
	ModuleRequired32Bit    ModuleAttributes = 0x00000002
	ModuleILLibrary        ModuleAttributes = 0x00000004
	ModuleStrongNameSigned ModuleAttributes = 0x00000008
	ModulePreferred32Bit   ModuleAttributes = 0x00020000
)

type MethodCallingConvention byte

const (
	CallDefault  MethodCallingConvention = 0x0
	CallC        MethodCallingConvention = 0x1
	CallStdCall  MethodCallingConvention = 0x2
	CallThisCall MethodCallingConvention = 0x3
	CallFastCall MethodCallingConvention = 0x4
	CallVarArg   MethodCallingConvention = 0x5
	CallGeneric  MethodCallingConvention = 0x10

	sigHasThis      = 0x20
	sigExplicitThis = 0x40
	sigField        = 0x06
	sigLocal        = 0x07
	sigProperty     = 0x08
	sigMethodSpec   = 0x0a
)
