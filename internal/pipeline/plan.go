package pipeline

import (
	"fmt"
	"strings"
)

// Artifact names a value passed between stages.
type Artifact string

const (
	ArtBatch       Artifact = "batch"
	ArtQueries     Artifact = "queries"
	ArtTokens      Artifact = "tokens"
	ArtPose        Artifact = "pose"
	ArtCameras     Artifact = "cameras"
	ArtDepth       Artifact = "depth"
	ArtPointMap    Artifact = "pointmap"
	ArtWorldPoints Artifact = "world_points"
	ArtCloudFile   Artifact = "cloud_file"
	ArtTracks      Artifact = "tracks"
)

// Stage names.
const (
	StageLoadImages = "load_images"
	StageAggregate  = "aggregate"
	StageCamera     = "camera"
	StageDepth      = "depth"
	StagePoints     = "points"
	StageUnproject  = "unproject"
	StageSave       = "save"
	StageTrack      = "track"
)

// Stage is one step of a Plan. Optional stages run only when the request
// asks for them.
type Stage struct {
	Name     string
	Needs    []Artifact
	Produces []Artifact
	Optional bool
}

// Plan is an ordered list of stages.
type Plan struct {
	Stages []Stage
}

// Validate checks that stage names are unique and that every artifact a
// stage needs is produced by an earlier, non-optional stage.
func (p Plan) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("plan has no stages")
	}
	seen := make(map[string]bool, len(p.Stages))
	have := map[Artifact]bool{}
	for _, st := range p.Stages {
		if st.Name == "" {
			return fmt.Errorf("plan has an unnamed stage")
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage %q", st.Name)
		}
		seen[st.Name] = true
		for _, a := range st.Needs {
			if !have[a] {
				return fmt.Errorf("stage %q needs %q which no earlier stage produces", st.Name, a)
			}
		}
		if st.Optional {
			continue
		}
		for _, a := range st.Produces {
			have[a] = true
		}
	}
	return nil
}

// String renders the plan as "name(needs->produces)" steps.
func (p Plan) String() string {
	parts := make([]string, len(p.Stages))
	for i, st := range p.Stages {
		parts[i] = fmt.Sprintf("%s(%s->%s)", st.Name, joinArtifacts(st.Needs), joinArtifacts(st.Produces))
	}
	return strings.Join(parts, " ")
}

func joinArtifacts(as []Artifact) string {
	s := make([]string, len(as))
	for i, a := range as {
		s[i] = string(a)
	}
	return strings.Join(s, ",")
}

// DefaultPlan is the reconstruction sequence. It is validated at init.
var DefaultPlan = mustPlan(Plan{Stages: []Stage{
	{Name: StageLoadImages, Produces: []Artifact{ArtBatch, ArtQueries}},
	{Name: StageAggregate, Needs: []Artifact{ArtBatch}, Produces: []Artifact{ArtTokens}},
	{Name: StageCamera, Needs: []Artifact{ArtTokens, ArtBatch}, Produces: []Artifact{ArtPose, ArtCameras}},
	{Name: StageDepth, Needs: []Artifact{ArtTokens, ArtBatch}, Produces: []Artifact{ArtDepth}},
	{Name: StagePoints, Needs: []Artifact{ArtTokens, ArtBatch}, Produces: []Artifact{ArtPointMap}},
	{Name: StageUnproject, Needs: []Artifact{ArtDepth, ArtCameras}, Produces: []Artifact{ArtWorldPoints}},
	{Name: StageSave, Needs: []Artifact{ArtWorldPoints}, Produces: []Artifact{ArtCloudFile}},
	{Name: StageTrack, Needs: []Artifact{ArtTokens, ArtBatch, ArtQueries}, Produces: []Artifact{ArtTracks}, Optional: true},
}})

func mustPlan(p Plan) Plan {
	if err := p.Validate(); err != nil {
		panic("pipeline: invalid plan: " + err.Error())
	}
	return p
}
