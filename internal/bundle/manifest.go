package bundle

import "strings"

// BaselineDependencies is installed into every generated backend
var BaselineDependencies = []string{
	"fastapi>=0.100.0",
	"uvicorn>=0.23.0",
	"sqlalchemy>=2.0.0",
	"pydantic>=2.0.0",
	"python-dotenv>=1.0.0",
}

// conditionalDependency is added when any marker occurs in the backend source.
// Detection is substring based and approximate.
type conditionalDependency struct {
	requirement string
	markers     []string
}

var conditionalDependencies = []conditionalDependency{
	{"pandas>=2.0.0", []string{"pandas"}},
	{"numpy>=1.24.0", []string{"numpy"}},
	{"scikit-learn>=1.3.0", []string{"scikit-learn", "sklearn"}},
	{"matplotlib>=3.7.0", []string{"matplotlib"}},
	{"requests>=2.31.0", []string{"requests"}},
}

// Manifest lists the backend's Python dependencies
type Manifest struct {
	Dependencies []string `json:"dependencies"`
}

// InferManifest builds the manifest for backend source text
func InferManifest(backend string) Manifest {
	lower := strings.ToLower(backend)
	seen := make(map[string]bool)
	deps := append([]string(nil), BaselineDependencies...)
	for _, d := range deps {
		seen[d] = true
	}
	for _, cd := range conditionalDependencies {
		for _, marker := range cd.markers {
			if strings.Contains(lower, marker) && !seen[cd.requirement] {
				deps = append(deps, cd.requirement)
				seen[cd.requirement] = true
				break
			}
		}
	}
	return Manifest{Dependencies: deps}
}

// Has reports whether the manifest includes a requirement for pkg
func (m Manifest) Has(pkg string) bool {
	for _, d := range m.Dependencies {
		if d == pkg || strings.HasPrefix(d, pkg+">") || strings.HasPrefix(d, pkg+"=") {
			return true
		}
	}
	return false
}

// RequirementsTxt renders the manifest in pip requirements format
func (m Manifest) RequirementsTxt() string {
	return strings.Join(m.Dependencies, "\n") + "\n"
}
