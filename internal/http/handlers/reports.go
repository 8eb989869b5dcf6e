package handlers

import (
	"net/http"

	"github.com/iago/section-writer-back/internal/catalog"
	"github.com/iago/section-writer-back/internal/domain"
)

type reportSections struct {
	Type     string   `json:"type"`
	Sections []string `json:"sections"`
}

// ReportTypes lists every report type with its canonical section titles.
func (api *API) ReportTypes(w http.ResponseWriter, r *http.Request) {
	types := api.catalog.ReportTypes()
	items := make([]reportSections, 0, len(types))
	for _, reportType := range types {
		report, err := api.catalog.Report(reportType)
		if err != nil {
			continue
		}
		items = append(items, toReportSections(report))
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusOK, Message: "Report types", Data: items})
}

// ReportSections lists the canonical sections of one report type in order.
func (api *API) ReportSections(w http.ResponseWriter, r *http.Request) {
	reportType := r.PathValue("type")
	report, err := api.catalog.Report(reportType)
	if err != nil {
		writeError(w, r, http.StatusNotFound, domain.ErrCodeNotFound, "Unknown report type "+reportType)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Status: statusOK, Message: "Report sections", Data: toReportSections(report)})
}

func toReportSections(report catalog.Report) reportSections {
	titles := make([]string, 0, len(report.Sections))
	for _, section := range report.Sections {
		titles = append(titles, section.Title)
	}
	return reportSections{Type: report.Type, Sections: titles}
}
