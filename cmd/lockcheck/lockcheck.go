// Command lockcheck is a build-time check of the lock-order rule
// spec.md §5 states: wait_lock must be acquired before a process's own
// lock whenever both are held, a buffer cache's index spinlock must be
// acquired before a buffer's own sleeplock, and no spinlock may be held
// across anything that sleeps except the one sleep itself releases.
// Testable Property 1 asks for this as a runtime invariant; this tool
// is the static half, catching an order violation before it ever has a
// chance to deadlock at runtime.
//
// There is no single teacher file this is adapted from — biscuit ships
// no equivalent static checker — so it is grounded directly on the
// x/tools packages SPEC_FULL.md's domain stack names for this role:
// golang.org/x/tools/go/packages to load the module's own source with
// full type information, go/ast and go/types to locate Acquire/Release
// call sites and classify their receiver, and golang.org/x/tools/go/pointer's
// points-to analysis (via an ssa.Program built with debug-ref
// instructions through golang.org/x/tools/go/ssa/ssautil) to decide
// whether two differently-classified locks can really alias the same
// *Lock_t value before trusting a lexical nesting order as a real
// violation.
package main

import (
	"fmt"
	"go/ast"
	"go/types"
	"log"
	"os"
	"sort"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// class names a lock's role in the ordering rule, not its concrete
// type: internal/spinlock.Lock_t is used for every role below, so the
// discriminator has to come from which variable/field is acquired.
type class int

const (
	classOther class = iota
	classWaitLock
	classProcLock
	classCacheLock
	classBufSleep
)

func (c class) String() string {
	switch c {
	case classWaitLock:
		return "wait_lock"
	case classProcLock:
		return "process lock"
	case classCacheLock:
		return "cache spinlock"
	case classBufSleep:
		return "buffer sleeplock"
	default:
		return "other"
	}
}

// allowedNestedIn[outer] is the set of classes permitted to be
// acquired while outer is already held, per spec.md §5's ordering
// table. Acquiring anything else nested inside outer is reported.
var allowedNestedIn = map[class]map[class]bool{
	classWaitLock:  {classProcLock: true},
	classCacheLock: {classBufSleep: true},
}

// acquireSite is one Acquire call found in the source, together with
// enough static information to classify it and, for the pointer-
// analysis pass, to look up the ssa.Value it was compiled from.
type acquireSite struct {
	pos   string
	class class
	expr  ast.Expr // the receiver expression X in X.Acquire()
}

// candidate is a lexically-nested (outer, inner) Acquire pair whose
// class ordering isn't in allowedNestedIn.
type candidate struct {
	msg          string
	outer, inner acquireSite
}

func main() {
	dir := "."
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax |
			packages.NeedTypes | packages.NeedTypesInfo | packages.NeedImports |
			packages.NeedDeps,
		Dir: dir,
	}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		log.Fatalf("lockcheck: loading packages: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		os.Exit(1)
	}

	candidates := findLexicalViolations(pkgs)
	if len(candidates) == 0 {
		fmt.Println("lockcheck: no lexical nesting violations found")
		return
	}

	// Confirm each candidate with points-to analysis before reporting
	// it: two Acquire call sites only conflict if their receivers can
	// actually alias the same *spinlock.Lock_t, which a purely lexical
	// scan can't tell on its own (two differently-named locals of the
	// same type are not the same lock).
	prog, ssaPkgs := buildSSA(pkgs)
	confirmed := confirmWithPointsTo(prog, ssaPkgs, candidates)

	if len(confirmed) == 0 {
		fmt.Println("lockcheck: candidates found, none confirmed by points-to analysis")
		return
	}
	sort.Strings(confirmed)
	for _, v := range confirmed {
		fmt.Println(v)
	}
	os.Exit(1)
}

// findLexicalViolations walks every function body looking for an
// Acquire call lexically nested inside another Acquire's critical
// section whose (outer, inner) class pair isn't in allowedNestedIn.
func findLexicalViolations(pkgs []*packages.Package) []candidate {
	var out []candidate
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			ast.Inspect(file, func(n ast.Node) bool {
				fd, ok := n.(*ast.FuncDecl)
				if !ok || fd.Body == nil {
					return true
				}
				checkFuncBody(pkg, fd, &out)
				return false // descend manually inside checkFuncBody
			})
		}
	}
	return out
}

func checkFuncBody(pkg *packages.Package, fd *ast.FuncDecl, out *[]candidate) {
	var stack []acquireSite

	var walk func(ast.Node)
	walk = func(n ast.Node) {
		call, ok := n.(*ast.CallExpr)
		if ok {
			if sel, ok := call.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == "Acquire" {
				c := classify(pkg, sel.X)
				site := acquireSite{
					pos:   pkg.Fset.Position(call.Pos()).String(),
					class: c,
					expr:  sel.X,
				}
				if c != classOther {
					for _, outer := range stack {
						if outer.class == c {
							continue // same lock reentered: a different bug, not an ordering one
						}
						if !allowedNestedIn[outer.class][c] {
							*out = append(*out, candidate{
								msg: fmt.Sprintf(
									"%s: %s acquired while %s (from %s) is held: not in the allowed order",
									site.pos, c, outer.class, outer.pos),
								outer: outer,
								inner: site,
							})
						}
					}
				}
				stack = append(stack, site)
				defer func() { stack = stack[:len(stack)-1] }()
			}
		}
		ast.Inspect(n, func(child ast.Node) bool {
			if child == n {
				return true
			}
			walk(child)
			return false
		})
	}
	walk(fd.Body)
}

// classify names which ordering role X (the receiver of an Acquire
// call) plays, using the field/variable names this module actually
// uses for its locks (internal/proc.WaitLock, Proc_t.lock,
// internal/bio.Cache_t.lock, Buf_t's sleeplock accessor).
func classify(pkg *packages.Package, x ast.Expr) class {
	sel, ok := x.(*ast.SelectorExpr)
	if !ok {
		if ident, ok := x.(*ast.Ident); ok && ident.Name == "WaitLock" {
			return classWaitLock
		}
		return classOther
	}
	switch sel.Sel.Name {
	case "WaitLock":
		return classWaitLock
	case "lock":
		// Ambiguous by name alone: both Proc_t and bio.Cache_t spell
		// their spinlock field "lock". Disambiguate by the selector's
		// static type, which go/types already resolved for us.
		t := pkg.TypesInfo.TypeOf(sel.X)
		if t == nil {
			return classOther
		}
		name := types.TypeString(t, nil)
		switch {
		case containsFold(name, "Proc_t"):
			return classProcLock
		case containsFold(name, "Cache_t"):
			return classCacheLock
		}
		return classOther
	case "sleep", "Sleeplock":
		return classBufSleep
	default:
		return classOther
	}
}

func containsFold(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// buildSSA compiles the loaded packages to SSA form with debug-ref
// instructions retained (ssa.GlobalDebug), the input go/pointer's
// Analyze requires and the only SSA build mode that preserves a
// Value-to-ast.Expr mapping we can use to find the receiver a lexical
// Acquire call compiled to.
func buildSSA(pkgs []*packages.Package) (*ssa.Program, []*ssa.Package) {
	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.GlobalDebug)
	prog.Build()
	return prog, ssaPkgs
}

// ssaValueForExpr finds the ssa.Value a source expression compiled to
// by scanning every function's *ssa.DebugRef instructions for one
// whose Expr is expr.
func ssaValueForExpr(ssaPkgs []*ssa.Package, expr ast.Expr) ssa.Value {
	for _, pkg := range ssaPkgs {
		if pkg == nil {
			continue
		}
		for _, mem := range pkg.Members {
			fn, ok := mem.(*ssa.Function)
			if !ok {
				continue
			}
			if v := debugRefValue(fn, expr); v != nil {
				return v
			}
		}
	}
	return nil
}

func debugRefValue(fn *ssa.Function, expr ast.Expr) ssa.Value {
	for _, anon := range fn.AnonFuncs {
		if v := debugRefValue(anon, expr); v != nil {
			return v
		}
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			dr, ok := instr.(*ssa.DebugRef)
			if !ok || dr.Expr != expr || dr.X == nil {
				continue
			}
			return dr.X
		}
	}
	return nil
}

// confirmWithPointsTo re-checks each lexical candidate against go/pointer's
// whole-program points-to sets: a lexical nesting is only a genuine
// ordering violation if the outer and inner Acquire's receivers can
// actually alias the same *spinlock.Lock_t. cmd/kernel's own main
// package is used as the analysis root (pointer.Analyze requires at
// least one "main" package to seed reachability from, and cmd/kernel
// transitively reaches every lock acquisition site this tool classifies).
// If no main package is in the loaded set, or the analysis can't
// resolve a query's ssa.Value, the candidate is reported unconfirmed
// rather than silently dropped — false positives here cost a second
// look; a suppressed false negative costs a deadlock.
func confirmWithPointsTo(prog *ssa.Program, ssaPkgs []*ssa.Package, candidates []candidate) []string {
	mains := ssautil.MainPackages(ssaPkgs)
	if len(mains) == 0 {
		out := make([]string, len(candidates))
		for i, c := range candidates {
			out[i] = c.msg
		}
		return out
	}

	pcfg := &pointer.Config{Mains: mains, BuildCallGraph: false}
	queried := make(map[ast.Expr]ssa.Value)
	needQuery := func(e ast.Expr) {
		if _, ok := queried[e]; ok {
			return
		}
		v := ssaValueForExpr(ssaPkgs, e)
		queried[e] = v
		if v != nil && pointer.CanPoint(v.Type()) {
			pcfg.AddQuery(v)
		}
	}
	for _, c := range candidates {
		needQuery(c.outer.expr)
		needQuery(c.inner.expr)
	}

	result, err := runPointerAnalysis(pcfg)
	if err != nil || result == nil {
		// go/pointer is picky about well-formedness of the input
		// program (e.g. reflection-heavy code it can't model); fail
		// open to "report everything" rather than mask a real
		// ordering bug behind an analysis failure.
		out := make([]string, len(candidates))
		for i, c := range candidates {
			out[i] = c.msg
		}
		return out
	}

	var out []string
	for _, c := range candidates {
		outerV, innerV := queried[c.outer.expr], queried[c.inner.expr]
		if outerV == nil || innerV == nil {
			out = append(out, c.msg) // couldn't resolve a receiver: report, don't guess
			continue
		}
		op, outerOK := result.Queries[outerV]
		ip, innerOK := result.Queries[innerV]
		if !outerOK || !innerOK {
			out = append(out, c.msg)
			continue
		}
		if op.MayAlias(ip) {
			out = append(out, c.msg)
		}
	}
	return out
}

// runPointerAnalysis wraps pointer.Analyze with a recover: go/pointer
// panics on some malformed or unsupported inputs rather than returning
// an error, and a lint tool crashing the build is worse than it
// skipping confirmation for one run.
func runPointerAnalysis(cfg *pointer.Config) (result *pointer.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pointer analysis panicked: %v", r)
		}
	}()
	return pointer.Analyze(cfg)
}
