package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/clodo/orchestrate/pkg/assess"
	"github.com/clodo/orchestrate/pkg/storage"
	"github.com/clodo/orchestrate/pkg/types"
)

// DefaultDir is where reports land unless overridden
const DefaultDir = "audit-reports"

// Report is the self-contained record of one deployment
type Report struct {
	Deployment  *types.Deployment            `json:"deployment"`
	Assessment  *assess.CapabilityAssessment `json:"assessment,omitempty"`
	Events      []*storage.PhaseEvent        `json:"events"`
	Rollbacks   []*types.RollbackAction      `json:"rollback_actions"`
	GeneratedAt time.Time                    `json:"generated_at"`
}

// Writer persists deployment reports as JSON plus a static HTML page
type Writer struct {
	dir   string
	store storage.Store
}

// NewWriter creates a report writer rooted at dir (DefaultDir when empty)
func NewWriter(dir string, store storage.Store) *Writer {
	if dir == "" {
		dir = DefaultDir
	}
	return &Writer{dir: dir, store: store}
}

// Write assembles the report for deploymentID from the state store and
// writes <deployment-id>.json and <deployment-id>.html under the report
// directory. Returns the JSON path.
func (w *Writer) Write(deploymentID string, assessment *assess.CapabilityAssessment) (string, error) {
	deployment, err := w.store.GetDeployment(deploymentID)
	if err != nil {
		return "", err
	}
	events, err := w.store.ListEvents(deploymentID)
	if err != nil {
		return "", err
	}
	rollbacks, err := w.store.ListRollbackActions(deploymentID)
	if err != nil {
		return "", err
	}

	report := &Report{
		Deployment:  deployment,
		Assessment:  assessment,
		Events:      events,
		Rollbacks:   rollbacks,
		GeneratedAt: time.Now().UTC(),
	}

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	jsonPath := filepath.Join(w.dir, deploymentID+".json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	htmlPath := filepath.Join(w.dir, deploymentID+".html")
	if err := w.writeHTML(htmlPath, report); err != nil {
		return "", err
	}
	return jsonPath, nil
}

func (w *Writer) writeHTML(path string, report *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create html report: %w", err)
	}
	defer f.Close()
	return reportTemplate.Execute(f, report)
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Deployment {{.Deployment.ID}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem; color: #1a1a1a; }
h1 { font-size: 1.4rem; }
h2 { font-size: 1.1rem; margin-top: 2rem; border-bottom: 1px solid #ddd; padding-bottom: .3rem; }
table { border-collapse: collapse; width: 100%; margin-top: .5rem; }
th, td { text-align: left; padding: .35rem .6rem; border-bottom: 1px solid #eee; font-size: .9rem; }
th { background: #f6f6f6; }
.status { display: inline-block; padding: .15rem .5rem; border-radius: 3px; font-size: .85rem; }
.status.succeeded { background: #e6f6e6; color: #1a7a1a; }
.status.failed { background: #fae6e6; color: #a11a1a; }
.status.rolled-back, .status.partially-rolled-back { background: #fdf3e0; color: #9a6a00; }
.muted { color: #888; }
code { background: #f4f4f4; padding: .1rem .3rem; border-radius: 2px; }
</style>
</head>
<body>
<h1>Deployment <code>{{.Deployment.ID}}</code></h1>
<p>
  <span class="status {{.Deployment.Status}}">{{.Deployment.Status}}</span>
  &nbsp; {{.Deployment.Domain}} / {{.Deployment.Environment}}
  <span class="muted">&mdash; {{stamp .Deployment.StartedAt}} to {{stamp .Deployment.FinishedAt}}</span>
</p>

{{if .Assessment}}
<h2>Assessment</h2>
<p>Service type <code>{{.Assessment.ServiceType}}</code>, confidence {{.Assessment.Confidence}}/100</p>
{{if .Assessment.Gaps}}
<table>
<tr><th>Capability</th><th>State</th><th>Priority</th><th>Deployable</th><th>Reason</th></tr>
{{range .Assessment.Gaps}}
<tr><td>{{.Capability}}</td><td>{{.State}}</td><td>{{.Priority}}</td><td>{{.Deployable}}</td><td>{{.Reason}}</td></tr>
{{end}}
</table>
{{else}}
<p class="muted">No capability gaps.</p>
{{end}}
{{end}}

<h2>Timeline</h2>
<table>
<tr><th>#</th><th>Kind</th><th>Phase</th><th>Step</th><th>Outcome</th><th>At</th><th>Error</th></tr>
{{range .Events}}
<tr><td>{{.Seq}}</td><td>{{.Kind}}</td><td>{{.Phase}}</td><td>{{.Step}}</td><td>{{.Outcome}}</td><td>{{stamp .At}}</td><td>{{.Error}}</td></tr>
{{end}}
</table>

<h2>Rollback actions</h2>
{{if .Rollbacks}}
<table>
<tr><th>#</th><th>Kind</th><th>Target</th><th>Registered</th><th>Executed</th><th>Error</th></tr>
{{range .Rollbacks}}
<tr><td>{{.Index}}</td><td>{{.Kind}}</td><td>{{.Target}}</td><td>{{stamp .RegisteredAt}}</td><td>{{if .Executed}}{{stamp .ExecutedAt}}{{else}}-{{end}}</td><td>{{.Error}}</td></tr>
{{end}}
</table>
{{else}}
<p class="muted">No rollback actions registered.</p>
{{end}}

<p class="muted">Generated {{stamp .GeneratedAt}}</p>
</body>
</html>
`))
