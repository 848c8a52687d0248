package eventrule

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

// LogLevelType selects how a tracepoint rule filters on log level.
type LogLevelType int8

const (
	LogLevelAll LogLevelType = iota
	// LogLevelRange matches levels at least as severe as Value.
	LogLevelRange
	// LogLevelSingle matches exactly Value.
	LogLevelSingle
)

// LogLevelRule is a tracepoint log level criterion.
type LogLevelRule struct {
	Type  LogLevelType
	Value int32
}

// AtLeastAsSevereAs builds a range rule.
func AtLeastAsSevereAs(level int32) LogLevelRule {
	return LogLevelRule{Type: LogLevelRange, Value: level}
}

// Exactly builds a single-level rule.
func Exactly(level int32) LogLevelRule {
	return LogLevelRule{Type: LogLevelSingle, Value: level}
}

func validateTracepoint(r *Tracepoint) error {
	if !r.DomainType.Valid() {
		return fmt.Errorf("%w: tracepoint rule has no domain", types.ErrInvalid)
	}
	if err := checkPattern(r.Pattern); err != nil {
		return err
	}
	if err := checkFilter(r.Filter); err != nil {
		return err
	}

	switch r.LogLevel.Type {
	case LogLevelAll:
	case LogLevelRange, LogLevelSingle:
		if r.DomainType == types.DomainKernel {
			return fmt.Errorf("%w: kernel tracepoints have no log level", types.ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown log level type %d", types.ErrInvalid, r.LogLevel.Type)
	}

	if len(r.Exclusions) > 0 && r.DomainType != types.DomainUST {
		return fmt.Errorf("%w: exclusions are only supported in the %s domain", types.ErrInvalid, types.DomainUST)
	}
	if len(r.Exclusions) > types.MaxExclusions {
		return fmt.Errorf("%w: %d exclusions exceed %d", types.ErrInvalid, len(r.Exclusions), types.MaxExclusions)
	}
	for _, ex := range r.Exclusions {
		if ex == "" || len(ex) > types.NameMax {
			return fmt.Errorf("%w: exclusion %q", types.ErrInvalid, ex)
		}
		if _, err := glob.Compile(ex); err != nil {
			return fmt.Errorf("%w: exclusion %q: %v", types.ErrInvalid, ex, err)
		}
	}
	return nil
}

// Tracepoint wire:
//
//	{domain i8, loglevel_type i8, loglevel_value i32, pattern_len u32,
//	 filter_len u32, exclusions_count u32, exclusions_len u32}
//	+ pattern + filter + exclusions, each as {len u32} + string
func serializeTracepoint(r *Tracepoint, p *payload.Payload) {
	exclusionsLen := 0
	for _, ex := range r.Exclusions {
		exclusionsLen += 4 + int(payload.StringLen(ex))
	}

	p.AppendI8(int8(r.DomainType))
	p.AppendI8(int8(r.LogLevel.Type))
	p.AppendI32(r.LogLevel.Value)
	p.AppendU32(payload.StringLen(r.Pattern))
	p.AppendU32(payload.OptionalStringLen(r.Filter))
	p.AppendU32(uint32(len(r.Exclusions)))
	p.AppendU32(uint32(exclusionsLen))
	p.AppendString(r.Pattern)
	p.AppendOptionalString(r.Filter)
	for _, ex := range r.Exclusions {
		p.AppendU32(payload.StringLen(ex))
		p.AppendString(ex)
	}
}

func readTracepoint(r *payload.Reader) *Tracepoint {
	domain := types.DomainType(r.I8())
	levelType := LogLevelType(r.I8())
	levelValue := r.I32()
	patternLen := r.U32()
	filterLen := r.U32()
	count := r.U32()
	exclusionsLen := r.U32()

	pattern := r.String(patternLen, "tracepoint pattern")
	f := r.OptionalString(filterLen, "tracepoint filter")

	if count > types.MaxExclusions {
		r.Fail("%d exclusions exceed %d", count, types.MaxExclusions)
		return nil
	}
	if !r.Need(int(exclusionsLen), "exclusions") {
		return nil
	}
	start := r.Offset()
	var exclusions []string
	for i := uint32(0); i < count; i++ {
		exclusions = append(exclusions, r.String(r.U32(), "exclusion"))
	}
	if r.Err() == nil && r.Offset()-start != int(exclusionsLen) {
		r.Fail("exclusions occupy %d bytes, header says %d", r.Offset()-start, exclusionsLen)
	}

	return &Tracepoint{
		DomainType: domain,
		Pattern:    pattern,
		Filter:     f,
		LogLevel:   LogLevelRule{Type: levelType, Value: levelValue},
		Exclusions: exclusions,
	}
}

func equalTracepoint(a, b *Tracepoint) bool {
	if a.DomainType != b.DomainType || a.Pattern != b.Pattern || a.LogLevel != b.LogLevel {
		return false
	}
	if !equalOptional(a.Filter, b.Filter) || len(a.Exclusions) != len(b.Exclusions) {
		return false
	}
	for i := range a.Exclusions {
		if a.Exclusions[i] != b.Exclusions[i] {
			return false
		}
	}
	return true
}

// agentFilter folds the logger pattern and log level into the user filter
// for the JUL, Log4j and Python domains. A "*" pattern adds no logger
// clause. Returns nil when nothing needs filtering.
func agentFilter(r *Tracepoint) *string {
	var f string
	if r.Pattern != "*" {
		if r.Filter != nil {
			f = fmt.Sprintf("(%s) && (logger_name == %q)", *r.Filter, r.Pattern)
		} else {
			f = fmt.Sprintf("logger_name == %q", r.Pattern)
		}
	}

	if r.LogLevel.Type != LogLevelAll {
		op := "=="
		if r.LogLevel.Type == LogLevelRange {
			op = ">="
		}
		switch {
		case f != "":
			f = fmt.Sprintf("(%s) && (int_loglevel %s %d)", f, op, r.LogLevel.Value)
		case r.Filter != nil:
			f = fmt.Sprintf("(%s) && (int_loglevel %s %d)", *r.Filter, op, r.LogLevel.Value)
		default:
			f = fmt.Sprintf("int_loglevel %s %d", op, r.LogLevel.Value)
		}
	}

	if f == "" {
		return r.Filter
	}
	return &f
}
