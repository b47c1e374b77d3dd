package types

// QueryPoint is a pixel in the first view to track across views.
type QueryPoint struct {
	// example: 100
	X float64 `json:"x" example:"100"`
	// example: 200
	Y float64 `json:"y" example:"200"`
}

// ReconstructRequest represents a reconstruction request payload.
type ReconstructRequest struct {
	// Directory of input images, relative to the server's serve root.
	// example: scenes/kitchen
	SourceDir string `json:"source_dir" example:"scenes/kitchen"`
	// Point-cloud output path (.ply or .xyz), relative to the serve root.
	// If empty, <source_dir>.ply beside the source directory is used.
	// example: out/kitchen.ply
	OutputPath string `json:"output_path,omitempty" example:"out/kitchen.ply"`
	// Run the tracking stage.
	// example: true
	Track bool `json:"track,omitempty" example:"true"`
	// Query points for tracking; server defaults are used when empty.
	Queries []QueryPoint `json:"queries,omitempty"`
}

// Track is the path of one query point across views.
type Track struct {
	Query QueryPoint `json:"query"`
	// Predicted [x, y] per view.
	Positions  [][2]float64 `json:"positions"`
	Visibility []float64    `json:"visibility"`
	Confidence []float64    `json:"confidence"`
}

// CameraPose summarizes one decoded camera.
type CameraPose struct {
	// World-space camera center.
	Center [3]float64 `json:"center"`
	// Focal lengths in pixels.
	Fx float64 `json:"fx"`
	Fy float64 `json:"fy"`
}

// ReconstructResponse is returned by POST /reconstruct.
type ReconstructResponse struct {
	// example: 5c1d8a0e-3f7b-4c1e-9d7e-2b8a4f0c6e11
	RunID string `json:"run_id" example:"5c1d8a0e-3f7b-4c1e-9d7e-2b8a4f0c6e11"`
	// example: out/kitchen.ply
	OutputPath string `json:"output_path" example:"out/kitchen.ply"`
	// Number of points written: views * height * width.
	// example: 804972
	Points int `json:"points" example:"804972"`
	// example: 3
	Views int `json:"views" example:"3"`
	// example: 518
	Width int `json:"width" example:"518"`
	// example: 518
	Height  int          `json:"height" example:"518"`
	Device  string       `json:"device" example:"cuda"`
	Dtype   string       `json:"dtype" example:"bfloat16"`
	Cameras []CameraPose `json:"cameras"`
	Tracks  []Track      `json:"tracks,omitempty"`
	// Stage durations in milliseconds.
	StageMS map[string]int64 `json:"stage_ms"`
}
