package eventrule

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/types"
)

// Populate compiles the rule's internal filter on behalf of (uid, gid).
// Populating again for the same principal is a no-op; a different
// principal recompiles. Rules without a filter end up with no bytecode.
// Populate mutates the rule and must run before the rule is shared.
func Populate(r Rule, compiler filter.Compiler, uid, gid uint32) error {
	if err := Validate(r); err != nil {
		return err
	}
	st := r.populated()
	if st.pattern == nil {
		pattern, exclusions, err := compileMatchers(r)
		if err != nil {
			return err
		}
		st.pattern, st.exclusions = pattern, exclusions
	}

	if st.bytecode != nil && st.bytecode.UID == uid && st.bytecode.GID == gid {
		return nil
	}

	f := sourceFilter(r)
	if f == nil {
		st.filter, st.bytecode = nil, nil
		return nil
	}

	bc, err := compiler.Compile(*f, uid, gid)
	if err != nil {
		return fmt.Errorf("compile filter of %s rule: %w", r.Type(), err)
	}
	st.filter, st.bytecode = f, bc
	return nil
}

func sourceFilter(r Rule) *string {
	switch x := r.(type) {
	case *Tracepoint:
		switch x.DomainType {
		case types.DomainJUL, types.DomainLog4j, types.DomainPython:
			return agentFilter(x)
		}
		return x.Filter
	case *Syscall:
		return x.Filter
	default:
		return nil
	}
}

// InternalFilter returns the filter text compiled by Populate, or nil.
func InternalFilter(r Rule) *string {
	return r.populated().filter
}

// Bytecode returns the program compiled by Populate, or nil.
func Bytecode(r Rule) *filter.Bytecode {
	return r.populated().bytecode
}

// Matches reports whether an instrumentation point named name is selected
// by the rule. Tracepoint exclusions veto a match. Patterns compiled by
// Populate are reused; an unpopulated rule compiles them on each call.
func Matches(r Rule, name string) bool {
	switch x := r.(type) {
	case *Tracepoint, *Syscall:
		st := r.populated()
		pattern, exclusions := st.pattern, st.exclusions
		if pattern == nil {
			var err error
			if pattern, exclusions, err = compileMatchers(r); err != nil {
				return false
			}
		}
		if !pattern.Match(name) {
			return false
		}
		for _, ex := range exclusions {
			if ex.Match(name) {
				return false
			}
		}
		return true
	case *Kprobe:
		return x.Name == name
	case *Kretprobe:
		return x.Name == name
	case *Uprobe:
		return x.Name == name
	default:
		return false
	}
}

func compileMatchers(r Rule) (glob.Glob, []glob.Glob, error) {
	var pattern string
	var exclusions []string
	switch x := r.(type) {
	case *Tracepoint:
		pattern, exclusions = x.Pattern, x.Exclusions
	case *Syscall:
		pattern = x.Pattern
	default:
		return nil, nil, nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: event rule pattern %q: %v", types.ErrInvalid, pattern, err)
	}
	var ex []glob.Glob
	for _, e := range exclusions {
		eg, err := glob.Compile(e)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: exclusion %q: %v", types.ErrInvalid, e, err)
		}
		ex = append(ex, eg)
	}
	return g, ex, nil
}
