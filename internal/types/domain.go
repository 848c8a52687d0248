package types

// DomainType identifies the tracing domain an object applies to.
// Values follow the session daemon's wire values.
type DomainType int8

const (
	DomainNone DomainType = iota
	DomainKernel
	DomainUST
	DomainJUL
	DomainLog4j
	DomainPython
)

// Valid reports whether d names a concrete tracing domain.
func (d DomainType) Valid() bool {
	return d > DomainNone && d <= DomainPython
}

func (d DomainType) String() string {
	switch d {
	case DomainNone:
		return "none"
	case DomainKernel:
		return "kernel"
	case DomainUST:
		return "ust"
	case DomainJUL:
		return "jul"
	case DomainLog4j:
		return "log4j"
	case DomainPython:
		return "python"
	default:
		return "unknown"
	}
}

// ParseDomain converts a CLI-style domain name.
func ParseDomain(s string) (DomainType, error) {
	switch s {
	case "kernel", "k":
		return DomainKernel, nil
	case "ust", "userspace", "u":
		return DomainUST, nil
	case "jul", "j":
		return DomainJUL, nil
	case "log4j", "l":
		return DomainLog4j, nil
	case "python", "p":
		return DomainPython, nil
	default:
		return DomainNone, ErrInvalid
	}
}
