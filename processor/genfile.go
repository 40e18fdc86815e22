package processor

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	goparser "go/parser"
	"go/token"
	"go/types"
	"reflect"
	"strings"

	"github.com/jhump/gopoet"
	"github.com/pkg/errors"
)

const generatedHeader = "Code generated by aptstep. DO NOT EDIT."

// genFile is a gopoet file generated into an existing package. Imports are
// named so they do not collide with the package's own declarations: a package
// whose name is taken is imported as "step"+name, like the imports added to
// rewritten sources.
type genFile struct {
	*gopoet.GoFile
	self    *types.Package
	names   map[string]string
	aliases map[string]string
}

func newGenFile(name string, pkg *Package) *genFile {
	f := gopoet.NewGoFile(name, pkg.Path, pkg.Name)
	f.FileComment = generatedHeader
	return &genFile{
		GoFile:  f,
		self:    pkg.Types,
		names:   map[string]string{},
		aliases: map[string]string{},
	}
}

// qualifier is a types.Qualifier that registers each package it is asked
// about as an import of the file.
func (f *genFile) qualifier(p *types.Package) string {
	if p == nil {
		return ""
	}
	return f.importPackage(p.Path(), p.Name())
}

// importPackage registers an import of the package and returns the name the
// file refers to it by.
func (f *genFile) importPackage(path, name string) string {
	if f.self != nil && path == f.self.Path() {
		return ""
	}
	if n, ok := f.names[path]; ok {
		return n
	}
	n := name
	if f.nameTaken(n) {
		n = "step" + name
		for i := 2; f.nameTaken(n); i++ {
			n = fmt.Sprintf("step%s%d", name, i)
		}
	}
	f.RegisterImport(path, n)
	f.names[path] = n
	if n != name {
		f.aliases[path] = n
	}
	return n
}

func (f *genFile) nameTaken(name string) bool {
	if f.self != nil && f.self.Scope().Lookup(name) != nil {
		return true
	}
	for _, n := range f.names {
		if n == name {
			return true
		}
	}
	return false
}

// gopoetPackage returns the gopoet package for path after registering it as
// an import.
func (f *genFile) gopoetPackage(path, name string) gopoet.Package {
	f.importPackage(path, name)
	return gopoet.Package{ImportPath: path, Name: name}
}

// typeName converts t for use in the file's declarations. Packages t refers
// to are registered as imports.
func (f *genFile) typeName(t types.Type) (gopoet.TypeName, error) {
	switch t := t.(type) {
	case *types.Alias:
		return f.namedType(t.Obj(), t.TypeArgs())
	case *types.Named:
		return f.namedType(t.Obj(), t.TypeArgs())
	case *types.Basic:
		if t.Kind() == types.UnsafePointer {
			f.importPackage("unsafe", "unsafe")
		}
		return gopoet.TypeNameForGoType(t), nil
	case *types.Pointer:
		elem, err := f.typeName(t.Elem())
		if err != nil {
			return nil, err
		}
		return gopoet.PointerType(elem), nil
	case *types.Slice:
		elem, err := f.typeName(t.Elem())
		if err != nil {
			return nil, err
		}
		return gopoet.SliceType(elem), nil
	case *types.Array:
		elem, err := f.typeName(t.Elem())
		if err != nil {
			return nil, err
		}
		return gopoet.ArrayType(elem, t.Len()), nil
	case *types.Map:
		key, err := f.typeName(t.Key())
		if err != nil {
			return nil, err
		}
		elem, err := f.typeName(t.Elem())
		if err != nil {
			return nil, err
		}
		return gopoet.MapType(key, elem), nil
	case *types.Chan:
		elem, err := f.typeName(t.Elem())
		if err != nil {
			return nil, err
		}
		dir := reflect.BothDir
		switch t.Dir() {
		case types.SendOnly:
			dir = reflect.SendDir
		case types.RecvOnly:
			dir = reflect.RecvDir
		}
		return gopoet.ChannelType(elem, dir), nil
	case *types.Signature:
		var sig gopoet.Signature
		if err := f.signature(t, &sig); err != nil {
			return nil, err
		}
		return gopoet.FuncTypeFromSig(&sig), nil
	case *types.Struct:
		fields := make([]gopoet.FieldType, t.NumFields())
		for i := range fields {
			fld := t.Field(i)
			ft, err := f.typeName(fld.Type())
			if err != nil {
				return nil, err
			}
			fields[i] = gopoet.FieldType{Type: ft, Tag: reflect.StructTag(t.Tag(i))}
			if !fld.Anonymous() {
				fields[i].Name = fld.Name()
			}
		}
		return gopoet.StructType(fields...), nil
	case *types.Interface:
		if t.Empty() {
			return gopoet.InterfaceType(nil), nil
		}
		var embeds []gopoet.Symbol
		for i := 0; i < t.NumEmbeddeds(); i++ {
			named, ok := types.Unalias(t.EmbeddedType(i)).(*types.Named)
			if !ok {
				return nil, errors.Errorf("cannot generate interface with embedded %s", t.EmbeddedType(i))
			}
			tn, err := f.namedType(named.Obj(), named.TypeArgs())
			if err != nil {
				return nil, err
			}
			embeds = append(embeds, tn.Symbol())
		}
		methods := make([]gopoet.MethodType, t.NumExplicitMethods())
		for i := range methods {
			m := t.ExplicitMethod(i)
			methods[i].Name = m.Name()
			if err := f.signature(m.Type().(*types.Signature), &methods[i].Signature); err != nil {
				return nil, err
			}
		}
		return gopoet.InterfaceType(embeds, methods...), nil
	default:
		return nil, errors.Errorf("cannot generate type %s", t)
	}
}

func (f *genFile) namedType(obj *types.TypeName, targs *types.TypeList) (gopoet.TypeName, error) {
	if obj.Pkg() == nil {
		// error, any, comparable
		return gopoet.NamedType(gopoet.Symbol{Name: obj.Name()}), nil
	}
	name := obj.Name()
	if targs.Len() > 0 {
		// gopoet has no type arguments, so they are spelled out in the name
		args := make([]string, targs.Len())
		for i := range args {
			args[i] = types.TypeString(targs.At(i), f.qualifier)
		}
		name += "[" + strings.Join(args, ", ") + "]"
	}
	return gopoet.NamedType(gopoet.Symbol{
		Name:    name,
		Package: f.gopoetPackage(obj.Pkg().Path(), obj.Pkg().Name()),
	}), nil
}

func (f *genFile) signature(t *types.Signature, sig *gopoet.Signature) error {
	for i := 0; i < t.Params().Len(); i++ {
		p := t.Params().At(i)
		tn, err := f.typeName(p.Type())
		if err != nil {
			return err
		}
		sig.AddArg(p.Name(), tn)
	}
	for i := 0; i < t.Results().Len(); i++ {
		r := t.Results().At(i)
		tn, err := f.typeName(r.Type())
		if err != nil {
			return err
		}
		sig.AddResult(r.Name(), tn)
	}
	sig.SetVariadic(t.Variadic())
	return nil
}

// write renders the file. gopoet only writes an import's name when it differs
// from the name it was registered with, so renamed imports get their names
// back here.
func (f *genFile) write() ([]byte, error) {
	var buf bytes.Buffer
	if err := gopoet.WriteGoFile(&buf, f.GoFile); err != nil {
		return nil, err
	}
	if len(f.aliases) == 0 {
		return buf.Bytes(), nil
	}
	fset := token.NewFileSet()
	af, err := goparser.ParseFile(fset, f.Name, buf.Bytes(), goparser.ParseComments)
	if err != nil {
		return nil, errors.Wrap(err, "could not parse generated source")
	}
	for _, imp := range af.Imports {
		if alias, ok := f.aliases[importPath(imp)]; ok && imp.Name == nil {
			imp.Name = ast.NewIdent(alias)
		}
	}
	buf.Reset()
	if err := format.Node(&buf, fset, af); err != nil {
		return nil, errors.Wrap(err, "could not format generated source")
	}
	return buf.Bytes(), nil
}
