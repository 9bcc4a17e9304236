package metadata

import (
	"strconv"
	"strings"
)

var primitiveAliases = map[string]string{
	"System.SByte":   "int8",
	"System.Int16":   "int16",
	"System.Int32":   "int32",
	"System.Int64":   "int64",
	"System.Byte":    "uint8",
	"System.UInt16":  "uint16",
	"System.UInt32":  "uint32",
	"System.UInt64":  "uint64",
	"System.Single":  "float32",
	"System.Double":  "float64",
	"System.Void":    "void",
	"System.Boolean": "bool",
	"System.String":  "string",
	"System.Char":    "char",
	"System.Object":  "object",
}

// PrimitiveAlias returns the IL keyword for a primitive full name, or "".
func PrimitiveAlias(fullName string) string { return primitiveAliases[fullName] }

// StripArity removes the generic arity suffix starting at the first backtick.
func StripArity(name string) string {
	if i := strings.IndexByte(name, '`'); i >= 0 {
		return name[:i]
	}
	return name
}

// Arity returns the generic parameter count encoded in a `N suffix.
func Arity(name string) int {
	i := strings.IndexByte(name, '`')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return 0
	}
	return n
}

// ShortTypeName is the display form of a type: arity stripped, generic
// parameters or arguments in angle brackets, primitives aliased and any
// other type reduced to its simple name.
func ShortTypeName(t Type) string {
	switch v := t.(type) {
	case nil:
		return ""
	case *GenericInstanceType:
		args := make([]string, len(v.Arguments))
		for i, a := range v.Arguments {
			args[i] = ShortTypeName(a)
		}
		return StripArity(v.Generic.TypeName()) + "<" + strings.Join(args, ", ") + ">"
	case *TypeDefinition:
		if len(v.GenericParameters) > 0 {
			names := make([]string, len(v.GenericParameters))
			for i, p := range v.GenericParameters {
				names[i] = p.Name
			}
			return StripArity(v.Name) + "<" + strings.Join(names, ", ") + ">"
		}
	case *TypeReference:
		if n := Arity(v.Name); n > 0 {
			return StripArity(v.Name) + "<" + strings.Repeat(",", n-1) + ">"
		}
	case *ArrayType:
		return ShortTypeName(v.Element) + v.suffix()
	case *PointerType:
		return ShortTypeName(v.Element) + "*"
	case *ByReferenceType:
		return ShortTypeName(v.Element) + "&"
	case *PinnedType:
		return ShortTypeName(v.Element) + " pinned"
	case *SentinelType:
		return ShortTypeName(v.Element)
	case *ModifiedType:
		return ShortTypeName(v.Element)
	case *GenericParameter:
		return v.Name
	}
	if alias := PrimitiveAlias(t.FullName()); alias != "" {
		return alias
	}
	return t.TypeName()
}
