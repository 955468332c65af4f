package scene

import "strings"

// Rule assigns a material bucket to names containing any of its substrings
type Rule struct {
	Bucket     string
	Substrings []string
}

// DefaultBucket receives objects that no rule matches
const DefaultBucket = "muscle"

// Rules is the classification cascade. Order is significant: the first
// rule with a matching substring wins.
var Rules = []Rule{
	{"bone", []string{"vertebrae", "sacrum", "humerus", "scapula", "clavicula", "femur", "hip", "skull", "rib", "sternum", "patella", "tibia", "fibula", "ulna", "radius", "carpal", "tarsal", "phalanges"}},
	{"muscle", []string{"gluteus_maximus", "gluteus_medius", "gluteus_minimus", "autochthon", "iliopsoas"}},
	{"spleen", []string{"spleen"}},
	{"kidney", []string{"kidney"}},
	{"liver", []string{"liver"}},
	{"stomach", []string{"stomach"}},
	{"pancreas", []string{"pancreas"}},
	{"lung", []string{"lung"}},
	{"cartilage", []string{"cartilage"}},
	{"heart", []string{"heart"}},
	{"artery", []string{"aorta", "pulmonary_vein", "subclavian_artery", "common_carotid_artery", "superior_vena_cava", "iliac_artery", "artery", "arteries"}},
	{"vein", []string{"vein", "vena_cava", "iliac_vena", "brachiocephalic"}},
	{"intestine", []string{"small_bowel", "duodenum", "colon", "urinary_bladder", "prostate", "esophagus"}},
	{"nervous", []string{"brain", "spinal_cord"}},
	{"gland", []string{"thyroid", "adrenal", "gland"}},
	{"fluid", []string{"effusion", "hemorrhage", "fluid"}},
	{"tumor", []string{"tumor", "lesion", "nodule"}},
	{"implant", []string{"implant"}},
}

// Classify returns the material bucket for an object name
func Classify(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range Rules {
		if containsAny(lower, rule.Substrings) {
			return rule.Bucket
		}
	}
	return DefaultBucket
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
