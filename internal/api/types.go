package api

type AnalyzeRequest struct {
	// Duration is the capture window in seconds.
	Duration       int    `json:"duration"`
	ConnectionType string `json:"connection_type"`
	Interface      string `json:"interface,omitempty"`
}

type Prediction struct {
	Label         string             `json:"label"`
	Class         int                `json:"class"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

type Summary struct {
	RunID          string         `json:"run_id"`
	TotalFlows     int            `json:"total_flows"`
	Duration       int            `json:"duration"`
	ConnectionType string         `json:"connection_type"`
	Interface      string         `json:"interface,omitempty"`
	ColumnsCount   int            `json:"columns_count"`
	LabelCounts    map[string]int `json:"label_counts"`
	Packets        int            `json:"packets,omitempty"`
	CaptureBytes   int64          `json:"capture_bytes,omitempty"`
	ImputedCells   int            `json:"imputed_cells"`
	Persisted      bool           `json:"persisted"`
	StartedAt      string         `json:"started_at,omitempty"`
	FinishedAt     string         `json:"finished_at,omitempty"`
}

type AnalyzeResponse struct {
	Success     bool             `json:"success"`
	Predictions []Prediction     `json:"predictions"`
	FullData    []map[string]any `json:"full_data"`
	Summary     Summary          `json:"summary"`
	States      []string         `json:"states,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Stage string `json:"stage,omitempty"`
}

type HistoryEntry struct {
	RunID          string `json:"run_id"`
	Timestamp      string `json:"timestamp"`
	ConnectionType string `json:"connection_type"`
	Duration       int    `json:"duration"`
	Prediction     string `json:"prediction"`
	Count          int    `json:"count"`
}

type HistoryResponse struct {
	History []HistoryEntry `json:"history"`
}

type RecentRecord struct {
	RunID          string  `json:"run_id"`
	Timestamp      string  `json:"timestamp"`
	ConnectionType string  `json:"connection_type"`
	Duration       int     `json:"duration"`
	Prediction     string  `json:"prediction"`
	Confidence     float64 `json:"confidence"`
}

type StatusResponse struct {
	Status        string           `json:"status"`
	Database      string           `json:"database"`
	Error         string           `json:"error,omitempty"`
	TotalRecords  int64            `json:"total_records"`
	Distribution  map[string]int64 `json:"distribution,omitempty"`
	RecentRecords []RecentRecord   `json:"recent_records"`
}

type Interface struct {
	Name         string   `json:"name"`
	Up           bool     `json:"up"`
	MTU          int      `json:"mtu"`
	HardwareAddr string   `json:"hardware_addr,omitempty"`
	Addrs        []string `json:"addrs,omitempty"`
}

type InterfacesResponse struct {
	Interfaces []Interface `json:"interfaces"`
}

type ArtifactEntry struct {
	Role        string `json:"role"`
	File        string `json:"file,omitempty"`
	Digest      string `json:"digest,omitempty"`
	InputWidth  int    `json:"input_width"`
	OutputWidth int    `json:"output_width"`
}

type ArtifactsResponse struct {
	Origin       string          `json:"origin"`
	FeatureWidth int             `json:"feature_width"`
	Categorical  int             `json:"categorical"`
	Labels       []string        `json:"labels"`
	CreatedAt    string          `json:"created_at,omitempty"`
	Artifacts    []ArtifactEntry `json:"artifacts"`
}
