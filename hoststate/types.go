package hoststate

import "time"

// Camera mirrors the page's authoritative camera.
type Camera struct {
	OffsetX      float64 `json:"offsetX"`
	OffsetY      float64 `json:"offsetY"`
	Zoom         float64 `json:"zoom"`
	CanvasWidth  float64 `json:"canvasWidth"`
	CanvasHeight float64 `json:"canvasHeight"`
}

// Tile is a grid coordinate.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Stats is the city stats snapshot carried by host.state. Demand values are
// signed, roughly -100..100.
type Stats struct {
	Population        int `json:"population"`
	Money             int `json:"money"`
	Income            int `json:"income"`
	Expenses          int `json:"expenses"`
	Jobs              int `json:"jobs"`
	ResidentialDemand int `json:"residentialDemand"`
	CommercialDemand  int `json:"commercialDemand"`
	IndustrialDemand  int `json:"industrialDemand"`
}

// State is one published snapshot of the host-observable state.
//
// Snapshots are immutable once published: pointer and slice fields are
// replaced, never modified in place, so readers may hold on to them.
type State struct {
	IsReady              bool      `json:"isReady"`
	IsInGame             bool      `json:"isInGame"`
	HasReceivedHostState bool      `json:"hasReceivedHostState"`
	LastUpdate           time.Time `json:"lastUpdate"`
	// LoadErrorMessage is empty while there is no load error.
	LoadErrorMessage string `json:"loadErrorMessage,omitempty"`

	CityName     string `json:"cityName"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	Day          int    `json:"day"`
	Tick         int    `json:"tick"`
	Speed        int    `json:"speed"`
	SelectedTool string `json:"selectedTool"`
	ActivePanel  string `json:"activePanel"`
	OverlayMode  string `json:"overlayMode"`
	Stats        Stats  `json:"stats"`

	SelectedTile *Tile  `json:"selectedTile"`
	Camera       Camera `json:"camera"`

	BudgetPanel     *BudgetPanel     `json:"budgetPanelData,omitempty"`
	StatisticsPanel *StatisticsPanel `json:"statisticsPanelData,omitempty"`
	AdvisorsPanel   *AdvisorsPanel   `json:"advisorsPanelData,omitempty"`

	DebugLines []string `json:"debugLines"`
	PerfFPS    *int     `json:"perfFPS"`
}

// HasLoadError reports whether a load error is being surfaced.
func (s State) HasLoadError() bool {
	return s.LoadErrorMessage != ""
}

// InitialState is the state of a fresh session before any message arrives.
func InitialState() State {
	return State{
		CityName:     "IsoCity",
		Year:         1900,
		Month:        1,
		Day:          1,
		Speed:        1,
		SelectedTool: "select",
		ActivePanel:  "none",
		OverlayMode:  "none",
		Camera:       Camera{Zoom: 1},
		DebugLines:   []string{},
	}
}
