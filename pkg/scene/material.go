package scene

// Material is a PBR appearance shared by every object of a bucket
type Material struct {
	Name string
	// Color is linear RGBA in [0, 1]
	Color     [4]float64
	Roughness float64
	Metallic  float64
	Specular  float64
	Clearcoat float64
}

// appearance lists the bucket appearances in classification order
var appearance = []Material{
	{Name: "bone", Color: [4]float64{0.95, 0.92, 0.89, 1}, Roughness: 0.6, Metallic: 0.1, Specular: 0.5, Clearcoat: 0.2},
	{Name: "muscle", Color: [4]float64{0.8, 0.2, 0.2, 1}, Roughness: 0.5, Specular: 0.4, Clearcoat: 0.1},
	{Name: "spleen", Color: [4]float64{0.55, 0, 0, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "kidney", Color: [4]float64{0.7, 0.3, 0.3, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "liver", Color: [4]float64{0.5, 0.1, 0.1, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "stomach", Color: [4]float64{0.8, 0.5, 0.4, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "pancreas", Color: [4]float64{0.9, 0.7, 0.5, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "lung", Color: [4]float64{0.95, 0.7, 0.7, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "cartilage", Color: [4]float64{0.7, 0.85, 0.95, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "heart", Color: [4]float64{0.9, 0.2, 0.2, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "artery", Color: [4]float64{0.8, 0, 0, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "vein", Color: [4]float64{0, 0, 0.4, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "intestine", Color: [4]float64{0.9, 0.8, 0.7, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "nervous", Color: [4]float64{0.9, 0.9, 0.9, 1}, Roughness: 0.5, Specular: 0.5, Clearcoat: 0.1},
	{Name: "gland", Color: [4]float64{0.85, 0.6, 0.3, 1}, Roughness: 0.4, Specular: 0.5, Clearcoat: 0.2},
	{Name: "fluid", Color: [4]float64{0.6, 0.75, 0.9, 0.5}, Roughness: 0.1, Specular: 0.5, Clearcoat: 0.5},
	{Name: "tumor", Color: [4]float64{0.45, 0.3, 0.55, 1}, Roughness: 0.5, Specular: 0.5, Clearcoat: 0.2},
	{Name: "implant", Color: [4]float64{0.75, 0.75, 0.78, 1}, Roughness: 0.3, Metallic: 0.9, Specular: 0.5, Clearcoat: 0.3},
}

// Palette holds one material per bucket
type Palette map[string]*Material

// NewPalette creates a fresh set of bucket materials
func NewPalette() Palette {
	p := make(Palette, len(appearance))
	for _, m := range appearance {
		m := m
		p[m.Name] = &m
	}
	return p
}

// Get returns the material of a bucket, falling back to the default bucket
func (p Palette) Get(bucket string) *Material {
	if m, ok := p[bucket]; ok {
		return m
	}
	return p[DefaultBucket]
}
