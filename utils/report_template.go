package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/CloudyKit/jet"
)

// ReportTemplateName is looked up in the template directory before
// falling back to the built-in layout.
const ReportTemplateName = "flood_report.jet"

const defaultReportTemplate = `Flood impact report {{ .RunID }}
  before window       {{ .Before }}
  after window        {{ .After }}
  area of interest    {{ .AOIName }} ({{ .AOIHectares }} ha)
  sub-region          {{ .SubRegionName }} ({{ .SubRegionHectares }} ha)

                      AOI (ha)    sub-region (ha)
  flood inundation    {{ .AOI.Flood.Hectares }}    {{ .SubRegion.Flood.Hectares }}
  water bodies        {{ .AOI.Water.Hectares }}    {{ .SubRegion.Water.Hectares }}
  agriculture         {{ .AOI.Agriculture.Hectares }}    {{ .SubRegion.Agriculture.Hectares }}
  buildings           {{ .AOI.Buildings.Hectares }}    {{ .SubRegion.Buildings.Hectares }}
`

// RenderReport executes the report template against data. templateDir
// may be empty, in which case the built-in layout is used.
func RenderReport(w io.Writer, templateDir string, data interface{}) error {
	dir := templateDir
	if len(dir) == 0 {
		dir = "."
	}
	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), dir, "/")

	var template *jet.Template
	var err error
	if _, statErr := os.Stat(filepath.Join(dir, ReportTemplateName)); len(templateDir) > 0 && statErr == nil {
		template, err = view.GetTemplate(ReportTemplateName)
	} else {
		template, err = view.LoadTemplate(ReportTemplateName, defaultReportTemplate)
	}
	if err != nil {
		return fmt.Errorf("report template error: %v", err)
	}

	if err = template.Execute(w, make(jet.VarMap), data); err != nil {
		return fmt.Errorf("report template execution error: %v", err)
	}
	return nil
}
