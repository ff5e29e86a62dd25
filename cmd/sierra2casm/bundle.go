package main

import (
	"fmt"
	"math/big"

	"github.com/raymyers/sierra2casm/pkg/casmtypes"
	"github.com/raymyers/sierra2casm/pkg/compiler"
	"github.com/raymyers/sierra2casm/pkg/invocations"
	"github.com/raymyers/sierra2casm/pkg/metadata"
	"github.com/raymyers/sierra2casm/pkg/refs"
	"github.com/raymyers/sierra2casm/pkg/sierra"
)

// bundle is the YAML-encoded unit of work this CLI accepts: a complete
// Program plus the Metadata, type registry, and Config a real pipeline
// would otherwise assemble from separate build steps. Sierra text
// parsing and type-registry construction are external concerns this
// driver is handed the result of, not recomputed here.
type bundle struct {
	Program          programYAML                  `yaml:"program"`
	Metadata         metadataYAML                  `yaml:"metadata"`
	Types            map[string]typeYAML           `yaml:"types"`
	Libfuncs         map[string]libfuncYAML        `yaml:"libfuncs"`
	TypeSizes        map[string]int                `yaml:"type_sizes"`
	EntryAnnotations map[int]entryAnnotationYAML    `yaml:"entry_annotations"`
	Config           configYAML                    `yaml:"config"`
}

type programYAML struct {
	Statements   []statementYAML `yaml:"statements"`
	Funcs        []functionYAML  `yaml:"funcs"`
	LibfuncDecls []string        `yaml:"libfunc_decls"`
}

type functionYAML struct {
	Name        string   `yaml:"name"`
	EntryPoint  int      `yaml:"entry_point"`
	Params      []string `yaml:"params"`
	ReturnTypes []string `yaml:"return_types"`
}

type statementYAML struct {
	Return []uint64        `yaml:"return"`
	Invoke *invocationYAML `yaml:"invoke"`
}

type invocationYAML struct {
	Libfunc  string           `yaml:"libfunc"`
	Args     []uint64         `yaml:"args"`
	Branches []branchInfoYAML `yaml:"branches"`
}

type branchInfoYAML struct {
	Target  branchTargetYAML `yaml:"target"`
	Results []uint64         `yaml:"results"`
}

type branchTargetYAML struct {
	Fallthrough bool `yaml:"fallthrough"`
	Statement   int  `yaml:"statement"`
}

type metadataYAML struct {
	FunctionApChange map[string]functionApChangeYAML `yaml:"function_ap_change"`
	GasInfo          map[int]int                     `yaml:"gas_info"`
}

type functionApChangeYAML struct {
	Known bool `yaml:"known"`
	Delta int  `yaml:"delta"`
}

type typeYAML struct {
	Kind     string           `yaml:"kind"` // struct, enum, primitive, const
	Fields   []string         `yaml:"fields"`
	Variants []string         `yaml:"variants"`
	Inner    string           `yaml:"inner"`
	Data     []genericArgYAML `yaml:"data"`
}

type genericArgYAML struct {
	Value *string `yaml:"value"`
	Type  string  `yaml:"type"`
}

type libfuncYAML struct {
	ParamTypes  []string        `yaml:"param_types"`
	Branches    []branchSigYAML `yaml:"branches"`
	Fallthrough *int            `yaml:"fallthrough"`
	AsBox       *asBoxYAML      `yaml:"as_box"`
}

type branchSigYAML struct {
	VarTypes []string `yaml:"var_types"`
	ApChange string   `yaml:"ap_change"` // known, unknown, branch_align
}

type asBoxYAML struct {
	ConstType string `yaml:"const_type"`
	SegmentID uint32 `yaml:"segment_id"`
}

type entryAnnotationYAML struct {
	Refs        map[uint64]referenceYAML `yaml:"refs"`
	Environment environmentTokenYAML     `yaml:"environment"`
}

type referenceYAML struct {
	Expr cellExprYAML `yaml:"expr"`
	Type string       `yaml:"type"`
}

type cellExprYAML struct {
	Base   string `yaml:"base"` // ap, fp
	Offset int    `yaml:"offset"`
}

type environmentTokenYAML struct {
	ApTracking string `yaml:"ap_tracking"` // enabled, disabled
	ApOffset   int    `yaml:"ap_offset"`
	GasWallet  int    `yaml:"gas_wallet"`
}

type configYAML struct {
	GasUsageCheck   bool `yaml:"gas_usage_check"`
	MaxBytecodeSize int  `yaml:"max_bytecode_size"`
}

// toProgram converts the YAML program into its sierra.Program form.
func (b *bundle) toProgram() (*sierra.Program, error) {
	prog := &sierra.Program{
		LibfuncDecls: make([]sierra.LibfuncID, len(b.Program.LibfuncDecls)),
	}
	for i, id := range b.Program.LibfuncDecls {
		prog.LibfuncDecls[i] = sierra.LibfuncID(id)
	}
	for _, f := range b.Program.Funcs {
		prog.Funcs = append(prog.Funcs, sierra.Function{
			Name:        f.Name,
			EntryPoint:  sierra.StatementIdx(f.EntryPoint),
			Params:      toTypeIDs(f.Params),
			ReturnTypes: toTypeIDs(f.ReturnTypes),
		})
	}
	for _, s := range b.Program.Statements {
		if s.Invoke != nil {
			branches := make([]sierra.BranchInfo, len(s.Invoke.Branches))
			for i, br := range s.Invoke.Branches {
				target := sierra.Absolute(br.Target.Statement)
				if br.Target.Fallthrough {
					target = sierra.Fallthrough
				}
				branches[i] = sierra.BranchInfo{Target: target, Results: toVarIDs(br.Results)}
			}
			prog.Statements = append(prog.Statements, sierra.Invoke(sierra.Invocation{
				LibfuncID: sierra.LibfuncID(s.Invoke.Libfunc),
				Args:      toVarIDs(s.Invoke.Args),
				Branches:  branches,
			}))
			continue
		}
		prog.Statements = append(prog.Statements, sierra.Return(toVarIDs(s.Return)...))
	}
	return prog, nil
}

func toTypeIDs(ss []string) []sierra.TypeID {
	out := make([]sierra.TypeID, len(ss))
	for i, s := range ss {
		out[i] = sierra.TypeID(s)
	}
	return out
}

func toVarIDs(vs []uint64) []sierra.VarID {
	out := make([]sierra.VarID, len(vs))
	for i, v := range vs {
		out[i] = sierra.VarID(v)
	}
	return out
}

// toMetadata converts the YAML metadata block.
func (b *bundle) toMetadata() *metadata.Metadata {
	md := &metadata.Metadata{
		ApChangeInfo: metadata.ApChangeInfo{FunctionApChange: map[string]metadata.FunctionApChange{}},
		GasInfo:      map[sierra.StatementIdx]int{},
	}
	for name, v := range b.Metadata.FunctionApChange {
		md.ApChangeInfo.FunctionApChange[name] = metadata.FunctionApChange{Known: v.Known, Delta: v.Delta}
	}
	for stmt, cost := range b.Metadata.GasInfo {
		md.GasInfo[sierra.StatementIdx(stmt)] = cost
	}
	return md
}

// mapRegistry is a casmtypes.Registry backed by the YAML-decoded type and
// libfunc tables.
type mapRegistry struct {
	types    map[sierra.TypeID]casmtypes.ConcreteType
	libfuncs map[sierra.LibfuncID]casmtypes.LibfuncSignature
}

func (r *mapRegistry) Type(id sierra.TypeID) (casmtypes.ConcreteType, error) {
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", id)
	}
	return t, nil
}

func (r *mapRegistry) Libfunc(id sierra.LibfuncID) (casmtypes.LibfuncSignature, error) {
	sig, ok := r.libfuncs[id]
	if !ok {
		return casmtypes.LibfuncSignature{}, fmt.Errorf("unknown libfunc %q", id)
	}
	return sig, nil
}

// toRegistry builds the in-memory type/libfunc registry described by the
// bundle.
func (b *bundle) toRegistry() (*mapRegistry, error) {
	reg := &mapRegistry{
		types:    map[sierra.TypeID]casmtypes.ConcreteType{},
		libfuncs: map[sierra.LibfuncID]casmtypes.LibfuncSignature{},
	}
	for name, t := range b.Types {
		concrete, err := toConcreteType(t)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", name, err)
		}
		reg.types[sierra.TypeID(name)] = concrete
	}
	for name, lf := range b.Libfuncs {
		reg.libfuncs[sierra.LibfuncID(name)] = toLibfuncSignature(lf)
	}
	return reg, nil
}

func toConcreteType(t typeYAML) (casmtypes.ConcreteType, error) {
	switch t.Kind {
	case "struct":
		return casmtypes.StructType{FieldTypes: toTypeIDs(t.Fields)}, nil
	case "enum":
		return casmtypes.EnumType{Variants: toTypeIDs(t.Variants)}, nil
	case "primitive", "":
		return casmtypes.PrimitiveType{}, nil
	case "const":
		data := make([]casmtypes.GenericArg, len(t.Data))
		for i, d := range t.Data {
			if d.Value != nil {
				v, ok := new(big.Int).SetString(*d.Value, 10)
				if !ok {
					return nil, fmt.Errorf("invalid const value %q", *d.Value)
				}
				data[i] = casmtypes.Value(v)
				continue
			}
			data[i] = casmtypes.TypeArg(sierra.TypeID(d.Type))
		}
		return casmtypes.ConstType{InnerType: sierra.TypeID(t.Inner), InnerData: data}, nil
	default:
		return nil, fmt.Errorf("unknown type kind %q", t.Kind)
	}
}

func toLibfuncSignature(lf libfuncYAML) casmtypes.LibfuncSignature {
	sig := casmtypes.LibfuncSignature{
		ParamTypes:  toTypeIDs(lf.ParamTypes),
		Fallthrough: lf.Fallthrough,
	}
	for _, br := range lf.Branches {
		mode := casmtypes.ApChangeKnown
		switch br.ApChange {
		case "unknown":
			mode = casmtypes.ApChangeUnknown
		case "branch_align":
			mode = casmtypes.ApChangeBranchAlign
		}
		sig.Branches = append(sig.Branches, casmtypes.BranchSignature{VarTypes: toTypeIDs(br.VarTypes), ApChange: mode})
	}
	if lf.AsBox != nil {
		sig.AsBox = &casmtypes.AsBoxDecl{ConstType: sierra.TypeID(lf.AsBox.ConstType), SegmentID: lf.AsBox.SegmentID}
	}
	return sig
}

func (b *bundle) toTypeSizes() casmtypes.TypeSizeMap {
	sizes := make(casmtypes.TypeSizeMap, len(b.TypeSizes))
	for name, size := range b.TypeSizes {
		sizes[sierra.TypeID(name)] = size
	}
	return sizes
}

func (b *bundle) toEntryAnnotations() map[sierra.StatementIdx]refs.StatementAnnotations {
	out := make(map[sierra.StatementIdx]refs.StatementAnnotations, len(b.EntryAnnotations))
	for stmt, a := range b.EntryAnnotations {
		env := refs.Environment{}
		for v, r := range a.Refs {
			base := refs.BaseAP
			if r.Expr.Base == "fp" {
				base = refs.BaseFP
			}
			env[sierra.VarID(v)] = refs.Reference{
				Expr: refs.CellExpr{Base: base, Offset: r.Expr.Offset},
				Type: sierra.TypeID(r.Type),
			}
		}
		tracking := refs.ApTrackingEnabled
		if a.Environment.ApTracking == "disabled" {
			tracking = refs.ApTrackingDisabled
		}
		out[sierra.StatementIdx(stmt)] = refs.StatementAnnotations{
			Refs: env,
			Environment: refs.EnvironmentToken{
				ApTracking: tracking,
				ApOffset:   a.Environment.ApOffset,
				GasWallet:  a.Environment.GasWallet,
			},
		}
	}
	return out
}

// buildEmitters registers the small fixed set of libfunc emitters this
// driver supports against every declared libfunc that matches one of
// them by name or by carrying an AsBox declaration.
func (b *bundle) buildEmitters(reg *mapRegistry) *invocations.EmitterRegistry {
	out := invocations.NewEmitterRegistry()
	for name, sig := range reg.libfuncs {
		switch {
		case sig.AsBox != nil:
			out.Register(name, invocations.ConstAsBoxEmitter{})
		case name == "branch_align":
			out.Register(name, invocations.BranchAlignEmitter{})
		case name == "jump":
			out.Register(name, invocations.JumpEmitter{})
		case name == "store_temp":
			out.Register(name, invocations.StoreTempEmitter{})
		}
	}
	return out
}

func (b *bundle) toConfig() compiler.Config {
	return compiler.Config{
		GasUsageCheck:   b.Config.GasUsageCheck,
		MaxBytecodeSize: b.Config.MaxBytecodeSize,
	}
}
