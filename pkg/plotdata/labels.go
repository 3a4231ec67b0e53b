package plotdata

// texLabels maps known parameter names to axis labels
var texLabels = map[string]string{
	"mej":            `$m_{ej}$ $(M_\odot)$`,
	"log_mej":        `$\log(m_{ej})$`,
	"log_mej_blue":   `$\log(m_{ej} / M_\odot)$ (blue)`,
	"log_mej_purple": `$\log(m_{ej} / M_\odot)$ (purple)`,
	"log_mej_red":    `$\log(m_{ej} / M_\odot)$ (red)`,
	"mej1":           `$m_{ej1}$ $(M_\odot)$`,
	"mej2":           `$m_{ej2}$ $(M_\odot)$`,
	"vej":            `$v_{ej}$ $(v/c)$`,
	"vej1":           `$v_{ej1}$ $(v/c)$`,
	"vej2":           `$v_{ej2}$ $(v/c)$`,
	"mej_red":        `$m_{ej}$(red) $(M_\odot)$`,
	"mej_blue":       `$m_{ej}$(blue) $(M_\odot)$`,
	"vej_red":        `$v_{ej} / c$ (red)`,
	"vej_purple":     `$v_{ej} / c$ (purple)`,
	"vej_blue":       `$v_{ej} / c$ (blue)`,
	"m1":             `$m_1$ $(M_\odot)$`,
	"m2":             `$m_2$ $(M_\odot)$`,
	"dist":           "Distance (Mpc)",
}

// palette is cycled across sample sets
var palette = []string{"black", "red", "orange", "yellow", "green", "cyan", "blue", "purple", "gray"}

// Label returns the display label of a parameter, or the name itself
func Label(name string) string {
	if l, ok := texLabels[name]; ok {
		return l
	}
	return name
}

// Labels maps Label over names
func Labels(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Label(n)
	}
	return out
}

// Color returns the i-th palette color name, cycling
func Color(i int) string {
	return palette[i%len(palette)]
}
