// Package preview wraps generated component source into a runnable
// React harness for a browser sandbox.
package preview

import (
	_ "embed"
	"errors"
	"regexp"
	"strings"
	"text/template"
	"time"
)

// DefaultComponentName is mounted when the code declares no function.
const DefaultComponentName = "App"

// RecompileDelay is how long the sandbox waits after the last edit before
// rebuilding.
const RecompileDelay = 500 * time.Millisecond

// ErrEmptyCode is returned by Wrap for blank input.
var ErrEmptyCode = errors.New("preview: code is empty")

var (
	//go:embed harness.tmpl
	harnessSrc string
	//go:embed styles.css
	styles string

	harness = template.Must(template.New("harness").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(harnessSrc))

	functionName = regexp.MustCompile(`function\s+(\w+)`)
)

// Icons are the lucide-react icons importable by generated code without
// an explicit import.
var Icons = []string{
	"Heart", "Star", "User", "Users", "Mail", "Lock", "Unlock", "Search",
	"Home", "Settings", "Menu", "X", "Check", "AlertCircle", "Info",
	"ChevronRight", "ChevronLeft", "ChevronDown", "ChevronUp", "Plus", "Minus",
	"Edit", "Trash2", "Download", "Upload", "Share2", "Calendar", "Clock",
	"MapPin", "Phone", "Globe", "ShoppingCart", "CreditCard", "Package",
	"Bell", "Filter", "Grid", "List", "Eye", "EyeOff", "Loader2", "RefreshCw",
	"Play", "Pause", "Volume2", "Bookmark", "ThumbsUp", "MessageCircle",
	"Send", "Image", "File", "Folder", "Save", "Copy", "ExternalLink",
	"Code", "Sun", "Moon", "Cloud", "Zap", "Sparkles", "Award", "Target",
	"TrendingUp", "TrendingDown", "BarChart2", "PieChart", "Activity",
	"Shield", "Key", "LogIn", "LogOut", "Camera", "Mic", "Monitor", "Smartphone",
}

// Dependencies lists the npm packages the harness needs.
var Dependencies = map[string]string{
	"lucide-react": "^0.263.1",
	"react":        "^18.2.0",
	"react-dom":    "^18.2.0",
}

// Harness is everything a sandbox needs to render one component.
type Harness struct {
	ComponentName  string            `json:"componentName"`
	Source         string            `json:"source"`
	Styles         string            `json:"styles"`
	Dependencies   map[string]string `json:"dependencies"`
	RecompileDelay int64             `json:"recompileDelayMs"`
}

// ComponentName returns the name of the first function declared in code.
func ComponentName(code string) string {
	if m := functionName.FindStringSubmatch(code); m != nil {
		return m[1]
	}
	return DefaultComponentName
}

// Wrap builds the harness for code.
func Wrap(code string) (Harness, error) {
	if strings.TrimSpace(code) == "" {
		return Harness{}, ErrEmptyCode
	}
	name := ComponentName(code)
	var b strings.Builder
	err := harness.Execute(&b, struct {
		Icons []string
		Code  string
		Name  string
	}{Icons, code, name})
	if err != nil {
		return Harness{}, err
	}
	deps := make(map[string]string, len(Dependencies))
	for k, v := range Dependencies {
		deps[k] = v
	}
	return Harness{
		ComponentName:  name,
		Source:         b.String(),
		Styles:         styles,
		Dependencies:   deps,
		RecompileDelay: RecompileDelay.Milliseconds(),
	}, nil
}
