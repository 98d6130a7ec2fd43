package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peakshaver/glassbox/internal/automl"
	"github.com/peakshaver/glassbox/internal/model"
)

// reportTemplate renders the whole run as one self-contained page; every
// plot is inlined so the file can be mailed or archived on its own.
const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>glassbox run {{.RunID}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; margin: 2rem auto; max-width: 72rem; color: #1f2328; }
h1, h2 { border-bottom: 1px solid #d8dee4; padding-bottom: .3rem; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #d8dee4; padding: .35rem .7rem; text-align: left; }
th { background: #f6f8fa; }
img { max-width: 100%; border: 1px solid #d8dee4; margin: .5rem 0; }
figcaption { color: #57606a; font-size: .85rem; }
.meta { color: #57606a; }
</style>
</head>
<body>
<h1>Peak demand run {{.RunID}}</h1>
<p class="meta">Series {{.Series}} &middot; generated {{.Generated}} &middot; test horizon {{.Horizon}} hours</p>

{{if .Leaderboard}}
<h2>Leaderboard</h2>
<table>
<tr><th>Rank</th><th>Model</th><th>Val MAE</th><th>Val RMSE</th><th>Val R2</th><th>Train</th></tr>
{{range .Leaderboard}}<tr><td>{{.Rank}}</td><td>{{.Model}}</td><td>{{printf "%.4f" .ValMAE}}</td><td>{{printf "%.4f" .ValRMSE}}</td><td>{{printf "%.4f" .ValR2}}</td><td>{{.TrainTime}}</td></tr>
{{end}}</table>
{{end}}

{{if .Test}}
<h2>Held-out test block</h2>
<table>
<tr><th>MAE</th><th>RMSE</th><th>MAPE</th><th>R2</th></tr>
<tr><td>{{printf "%.4f" .Test.MAE}}</td><td>{{printf "%.4f" .Test.RMSE}}</td><td>{{printf "%.2f" .Test.MAPE}}%</td><td>{{printf "%.4f" .Test.R2}}</td></tr>
</table>
{{end}}

{{if .Images}}
<h2>Plots</h2>
{{range .Images}}<figure>
<img src="data:image/png;base64,{{.B64}}" alt="{{.Caption}}">
<figcaption>{{.Caption}}</figcaption>
</figure>
{{end}}{{end}}
</body>
</html>
`

type htmlImage struct {
	Caption string
	B64     string
}

type htmlData struct {
	RunID       string
	Series      string
	Generated   string
	Horizon     int
	Leaderboard []automl.LeaderboardEntry
	Test        *model.Report
	Images      []htmlImage
}

func (b *Builder) buildHTML(in *Input, written []string) ([]string, error) {
	data := htmlData{
		RunID:       in.Record.ID,
		Series:      in.Record.Series,
		Generated:   time.Now().UTC().Format(time.RFC3339),
		Horizon:     in.Record.Horizon,
		Test:        in.Record.TestMetrics,
		Leaderboard: in.leaderboard(),
	}

	// Inline every plot already written to the artifact dir.
	for _, p := range written {
		if filepath.Ext(p) != ".png" {
			continue
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read plot %s: %w", p, err)
		}
		data.Images = append(data.Images, htmlImage{
			Caption: strings.TrimSuffix(filepath.Base(p), ".png"),
			B64:     base64.StdEncoding.EncodeToString(raw),
		})
	}

	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	p, err := b.writeFile("report.html", buf.Bytes(), 0o644)
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}
