package segmentation

import (
	"fmt"
	"sort"
	"strings"
)

// Modality is the imaging modality a task was trained on
type Modality string

const (
	CT Modality = "CT"
	MR Modality = "MR"
)

// ParseModality accepts CT or MR in any case; MRI is an alias for MR
func ParseModality(s string) (Modality, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CT":
		return CT, nil
	case "MR", "MRI":
		return MR, nil
	default:
		return "", fmt.Errorf("unknown modality %q (want CT or MR)", s)
	}
}

// Speed selects the resolution the segmentation model runs at
type Speed string

const (
	Normal Speed = "normal"
	Fast   Speed = "fast"
)

// ParseSpeed validates a speed mode
func ParseSpeed(s string) (Speed, error) {
	switch Speed(strings.ToLower(s)) {
	case Normal:
		return Normal, nil
	case Fast:
		return Fast, nil
	default:
		return "", fmt.Errorf("unknown speed %q (want normal or fast)", s)
	}
}

// tasks lists the segmentation tasks and the modality each expects
var tasks = map[string]Modality{
	"total":                     CT,
	"lung_vessels":              CT,
	"body":                      CT,
	"cerebral_bleed":            CT,
	"hip_implant":               CT,
	"coronary_arteries":         CT,
	"pleural_pericard_effusion": CT,
	"heartchambers_highres":     CT,
	"appendicular_bones":        CT,
	"tissue_types":              CT,
	"liver_vessels":             CT,
	"lung_nodules":              CT,
	"kidney_cysts":              CT,
	"breasts":                   CT,
	"liver_segments":            CT,
	"vertebrae_body":            CT,
	"brain_structures":          CT,
	"head_glands_cavities":      CT,
	"headneck_bones_vessels":    CT,
	"headneck_muscles":          CT,
	"face":                      CT,
	"oculomotor_muscles":        CT,
	"thigh_shoulder_muscles":    CT,
	"total_mr":                  MR,
	"body_mr":                   MR,
	"vertebrae_mr":              MR,
	"tissue_types_mr":           MR,
	"liver_segments_mr":         MR,
	"appendicular_bones_mr":     MR,
	"thigh_shoulder_muscles_mr": MR,
}

// Tasks returns the tasks available for a modality in lexical order
func Tasks(m Modality) []string {
	var names []string
	for name, tm := range tasks {
		if tm == m {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultTask is the whole-body task for a modality
func DefaultTask(m Modality) string {
	if m == MR {
		return "total_mr"
	}
	return "total"
}

// ValidateTasks rejects unknown tasks, tasks trained on another modality
// and empty task lists
func ValidateTasks(m Modality, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("no segmentation task given")
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		tm, ok := tasks[name]
		if !ok {
			return fmt.Errorf("unknown task %q", name)
		}
		if tm != m {
			return fmt.Errorf("task %q requires %s input, not %s", name, tm, m)
		}
		if seen[name] {
			return fmt.Errorf("task %q given twice", name)
		}
		seen[name] = true
	}
	return nil
}
