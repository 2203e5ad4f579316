package domain

import "fmt"

// Method selects the retrieval strategy.
type Method int

const (
	MethodHybrid Method = iota
	MethodSemantic
	MethodKeyword
	MethodMultiStep
)

func (m Method) String() string {
	switch m {
	case MethodHybrid:
		return "hybrid"
	case MethodSemantic:
		return "semantic"
	case MethodKeyword:
		return "bm25"
	case MethodMultiStep:
		return "multistep"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	v, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMethod parses a method name. "keyword" and "bm25" are synonyms.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "", "hybrid":
		return MethodHybrid, nil
	case "semantic":
		return MethodSemantic, nil
	case "keyword", "bm25":
		return MethodKeyword, nil
	case "multistep":
		return MethodMultiStep, nil
	}
	return MethodHybrid, fmt.Errorf("unknown search method %q", s)
}

// Collection is a coarse domain category of the corpus.
type Collection string

const (
	CollectionNone     Collection = ""
	CollectionNorma    Collection = "norma"
	CollectionLibro    Collection = "libro"
	CollectionMemoria  Collection = "memoria"
	CollectionSoftware Collection = "software"
	CollectionMaterial Collection = "material"
	CollectionPliego   Collection = "pliego"
)

// Collections lists every known collection.
var Collections = []Collection{
	CollectionNorma, CollectionLibro, CollectionMemoria,
	CollectionSoftware, CollectionMaterial, CollectionPliego,
}

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	for _, k := range Collections {
		if c == k {
			return true
		}
	}
	return false
}
