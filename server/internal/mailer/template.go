package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var violationTmpl = template.Must(template.New("violation").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: Arial, sans-serif; background: #f4f4f4; margin: 0; padding: 20px; }
.card { max-width: 600px; margin: 0 auto; background: #fff; border-radius: 8px; overflow: hidden; }
.header { background: #dc2626; color: #fff; padding: 24px; text-align: center; }
.body { padding: 24px; }
table { width: 100%; border-collapse: collapse; }
td { padding: 8px; border-bottom: 1px solid #eee; }
td.label { font-weight: bold; width: 40%; }
.note { background: #fef3c7; padding: 12px; margin-top: 16px; border-radius: 4px; }
.footer { color: #888; font-size: 12px; text-align: center; padding: 16px; }
</style>
</head>
<body>
<div class="card">
  <div class="header">
    <h1>Restricted Area Violation</h1>
    <p>{{.Class}} detected</p>
  </div>
  <div class="body">
    <table>
      <tr><td class="label">Object</td><td>{{.Class}}</td></tr>
      <tr><td class="label">Confidence</td><td>{{.Confidence}}</td></tr>
      <tr><td class="label">Time</td><td>{{.Time}}</td></tr>
      <tr><td class="label">Location</td><td>{{.Location}}</td></tr>
      <tr><td class="label">Camera</td><td>{{.Camera}}</td></tr>
    </table>
    {{if .Snapshot}}<div class="note"><strong>Snapshot</strong> attached as {{.Snapshot}}.</div>{{end}}
    {{if .Video}}<div class="note"><strong>Video recording</strong> attached as {{.Video}}.</div>{{end}}
    <p>Review the live feed and take action if required.</p>
  </div>
  <div class="footer">Generated {{.Generated}}</div>
</div>
</body>
</html>
`))

type violationView struct {
	Class      string
	Confidence string
	Time       string
	Location   string
	Camera     string
	Snapshot   string
	Video      string
	Generated  string
}

func renderViolation(v Violation) (string, error) {
	view := violationView{
		Class:      v.className(),
		Confidence: confidenceLabel(v.Confidence),
		Time:       "N/A",
		Location:   v.Location,
		Camera:     v.CameraID,
		Generated:  time.Now().Format("2006-01-02 15:04:05"),
	}
	if !v.Timestamp.IsZero() {
		view.Time = v.Timestamp.Format("2006-01-02 15:04:05")
	}
	if view.Location == "" {
		view.Location = "Main Camera"
	}
	if view.Camera == "" {
		view.Camera = "CAM-001"
	}
	if existing(v.SnapshotPath) {
		view.Snapshot = "snapshot" + ext(v.SnapshotPath, ".jpg")
	}
	if existing(v.VideoPath) {
		view.Video = "recording" + ext(v.VideoPath, ".mp4")
	}
	var buf bytes.Buffer
	if err := violationTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("mailer: render violation: %w", err)
	}
	return buf.String(), nil
}

// confidenceLabel prints 0..1 confidences as a percentage.
func confidenceLabel(c float64) string {
	if c <= 1 {
		c *= 100
	}
	return fmt.Sprintf("%.1f%%", c)
}
