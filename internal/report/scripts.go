package report

import (
	"encoding/json"
	"fmt"
	"time"
)

const forecastScript = `#!/usr/bin/env python3
"""Plot forecast vs actual from forecast_data.json."""
import json

import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt

with open("forecast_data.json") as f:
    data = json.load(f)

fig, ax = plt.subplots(figsize=(12, 5))
ax.plot(data["actual"], label="actual", linewidth=1.2)
ax.plot(data["predicted"], label="predicted", linewidth=1.2)
ax.set_xlabel("hours into test block")
ax.set_ylabel("demand")
ax.set_title("Forecast vs actual ({})".format(data["series"]))
ax.legend()
ax.grid(alpha=0.3)
fig.savefig("forecast_py.png", dpi=150, bbox_inches="tight")
print("wrote forecast_py.png")
`

const importanceScript = `#!/usr/bin/env python3
"""Plot permutation importance from importance_data.json."""
import json

import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt

with open("importance_data.json") as f:
    data = json.load(f)

features = data["features"][::-1]
drops = data["drops"][::-1]

fig, ax = plt.subplots(figsize=(8, 0.4 * len(features) + 1.5))
ax.barh(features, drops, color="#2a6fb0")
ax.set_xlabel("MAE increase when shuffled")
ax.set_title("Permutation importance")
ax.grid(axis="x", alpha=0.3)
fig.savefig("importance_py.png", dpi=150, bbox_inches="tight")
print("wrote importance_py.png")
`

// buildScripts drops matplotlib companions next to the data they plot, for
// hand-tuning figures beyond what the built-in renderer draws.
func (b *Builder) buildScripts(in *Input) ([]string, error) {
	var paths []string

	if len(in.Actual) > 0 && len(in.Actual) == len(in.Predicted) {
		payload := map[string]any{
			"series":    in.Record.Series,
			"actual":    in.Actual,
			"predicted": in.Predicted,
		}
		if len(in.TestTimes) == len(in.Actual) {
			times := make([]string, len(in.TestTimes))
			for i, t := range in.TestTimes {
				times[i] = t.UTC().Format(time.RFC3339)
			}
			payload["times"] = times
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return paths, fmt.Errorf("marshal forecast data: %w", err)
		}
		p, err := b.writeFile("forecast_data.json", data, 0o644)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
		if p, err = b.writeFile("plot_forecast.py", []byte(forecastScript), 0o755); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	if in.Importance != nil && len(in.Importance.Features) > 0 {
		features := make([]string, len(in.Importance.Features))
		drops := make([]float64, len(in.Importance.Features))
		for i, fs := range in.Importance.Features {
			features[i] = fs.Name
			drops[i] = fs.Drop
		}
		payload := map[string]any{
			"features":      features,
			"drops":         drops,
			"baseline_loss": in.Importance.BaselineLoss,
		}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return paths, fmt.Errorf("marshal importance data: %w", err)
		}
		p, err := b.writeFile("importance_data.json", data, 0o644)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
		if p, err = b.writeFile("plot_importance.py", []byte(importanceScript), 0o755); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}

	return paths, nil
}
