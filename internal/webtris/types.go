package webtris

import "encoding/json"

// Site is a single entry from the WebTRIS /sites endpoint.
type Site struct {
	ID          int     `json:"Id"`
	Name        string  `json:"Name"`
	Description string  `json:"Description"`
	Longitude   float64 `json:"Longitude"`
	Latitude    float64 `json:"Latitude"`
	Status      string  `json:"Status"`
}

// sitesResponse wraps the /sites payload.
type sitesResponse struct {
	Sites []Site `json:"sites"`
}

// dailyReportResponse wraps the /reports/.../daily payload. Rows are kept raw
// so that a single malformed row can be counted downstream without failing
// the whole task.
type dailyReportResponse struct {
	Rows []json.RawMessage `json:"Rows"`
}

// ReportRow is one decoded daily report row. Field tags match the column
// names the upstream API uses verbatim.
type ReportRow struct {
	SiteName         string `json:"Site Name"`
	ReportDate       string `json:"Report Date"`
	TimePeriodEnding string `json:"Time Period Ending"`
	TimeInterval     string `json:"Time Interval"`
	Len0to520cm      string `json:"0 - 520 cm"`
	Len521to660cm    string `json:"521 - 660 cm"`
	Len661to1160cm   string `json:"661 - 1160 cm"`
	Len1160PlusCm    string `json:"1160+ cm"`
	Speed0to10mph    string `json:"0 - 10 mph"`
	Speed11to15mph   string `json:"11 - 15 mph"`
	Speed16to20mph   string `json:"16 - 20 mph"`
	Speed21to25mph   string `json:"21 - 25 mph"`
	Speed26to30mph   string `json:"26 - 30 mph"`
	Speed31to35mph   string `json:"31 - 35 mph"`
	Speed36to40mph   string `json:"36 - 40 mph"`
	Speed41to45mph   string `json:"41 - 45 mph"`
	Speed46to50mph   string `json:"46 - 50 mph"`
	Speed51to55mph   string `json:"51 - 55 mph"`
	Speed56to60mph   string `json:"56 - 60 mph"`
	Speed61to70mph   string `json:"61 - 70 mph"`
	Speed71to80mph   string `json:"71 - 80 mph"`
	Speed80PlusMph   string `json:"80+ mph"`
	AvgSpeedMph      string `json:"Avg mph"`
	TotalVolume      string `json:"Total Volume"`
}
