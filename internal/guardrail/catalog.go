package guardrail

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Catalog knows the vehicle makes and models a reply may name.
type Catalog struct {
	matchers []mentionMatcher
	models   map[string][]string
}

type mentionMatcher struct {
	re    *regexp.Regexp
	make  string
	model string
}

// Mention is a vehicle reference found in text.
type Mention struct {
	Text  string
	Make  string
	Model string
	start int
	end   int
}

var defaultModels = map[string][]string{
	"toyota":     {"corolla", "camry", "rav4", "hilux", "tacoma", "yaris", "prius", "highlander", "tundra", "sienna", "avanza"},
	"honda":      {"civic", "accord", "cr-v", "hr-v", "pilot", "odyssey", "fit", "city"},
	"nissan":     {"versa", "sentra", "altima", "march", "kicks", "x-trail", "frontier", "np300", "pathfinder"},
	"chevrolet":  {"aveo", "onix", "spark", "cruze", "malibu", "equinox", "tahoe", "silverado", "camaro", "trax", "suburban", "tracker"},
	"ford":       {"mustang", "focus", "fiesta", "escape", "explorer", "ranger", "lobo", "f-150", "bronco", "maverick", "territory"},
	"volkswagen": {"jetta", "golf", "vento", "polo", "tiguan", "taos", "passat", "beetle", "virtus", "t-cross"},
	"mazda":      {"mazda2", "mazda3", "cx-3", "cx-30", "cx-5", "cx-50", "cx-9", "mx-5"},
	"hyundai":    {"accent", "elantra", "tucson", "santa fe", "creta", "sonata", "grand i10"},
	"kia":        {"rio", "forte", "soul", "sportage", "sorento", "seltos", "k3"},
	"jeep":       {"wrangler", "cherokee", "grand cherokee", "compass", "renegade", "gladiator"},
	"tesla":      {"model 3", "model y", "model s", "model x"},
	"bmw":        {"x1", "x3", "x5", "serie 3"},
	"audi":       {"a3", "a4", "q3", "q5"},
	"dodge":      {"attitude", "journey", "durango", "charger", "challenger", "neon"},
	"ram":        {"700", "1200", "1500", "2500", "promaster"},
	"renault":    {"duster", "kwid", "koleos", "logan", "stepway", "oroch", "captur"},
	"mitsubishi": {"l200", "outlander", "mirage", "montero", "eclipse cross", "xpander"},
	"suzuki":     {"swift", "vitara", "ertiga", "jimny", "ignis", "ciaz"},
	"mg":         {"mg5", "zs", "hs", "rx5", "gt"},
	"byd":        {"dolphin", "seal", "song plus", "tang", "han", "yuan", "shark"},
	"peugeot":    {"208", "2008", "3008", "partner", "rifter"},
	"subaru":     {"impreza", "forester", "outback", "crosstrek", "xv", "wrx"},
	"gmc":        {"sierra", "acadia", "terrain", "yukon", "canyon"},
}

var makeAliases = map[string][]string{
	"chevrolet":  {"chevy"},
	"volkswagen": {"vw"},
}

// ambiguousModels are ordinary words or short codes; they count as mentions
// only when preceded by their make.
var ambiguousModels = map[string]bool{
	"rio": true, "fit": true, "soul": true, "pilot": true, "escape": true, "polo": true,
	"focus": true, "march": true, "lobo": true, "golf": true, "compass": true, "spark": true,
	"accent": true, "kicks": true, "explorer": true, "ranger": true, "fiesta": true, "city": true,
	"model 3": true, "model y": true, "model s": true, "model x": true, "x1": true, "x3": true,
	"x5": true, "a3": true, "a4": true, "q3": true, "q5": true, "k3": true, "serie 3": true,
	"territory": true, "tracker": true,
	"attitude": true, "journey": true, "durango": true, "charger": true, "neon": true,
	"700": true, "1200": true, "1500": true, "2500": true, "mirage": true, "montero": true,
	"swift": true, "ignis": true, "zs": true, "hs": true, "gt": true, "dolphin": true,
	"seal": true, "song plus": true, "tang": true, "han": true, "yuan": true, "shark": true,
	"208": true, "2008": true, "3008": true, "partner": true, "xv": true, "outback": true,
	"sierra": true, "terrain": true, "canyon": true,
}

var yearRe = regexp.MustCompile(`^(19|20)\d\d$`)

// DefaultCatalog covers the makes commonly sold in the region.
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultModels)
}

// NewCatalog builds a catalog from lowercase make → models.
func NewCatalog(models map[string][]string) *Catalog {
	c := &Catalog{models: make(map[string][]string, len(models))}
	for mk, list := range models {
		mk = strings.ToLower(mk)
		c.models[mk] = append([]string(nil), list...)
		names := append([]string{mk}, makeAliases[mk]...)
		for _, model := range list {
			model = strings.ToLower(model)
			for _, name := range names {
				c.matchers = append(c.matchers, newMatcher(name+" "+model, mk, model))
			}
			if !ambiguousModels[model] {
				c.matchers = append(c.matchers, newMatcher(model, mk, model))
			}
		}
		for _, name := range names {
			c.matchers = append(c.matchers, newMatcher(name, mk, ""))
		}
	}
	return c
}

func newMatcher(phrase, mk, model string) mentionMatcher {
	parts := strings.Fields(phrase)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	pattern := `(?i)\b` + strings.Join(parts, `\s+`) + `\b`
	return mentionMatcher{re: regexp.MustCompile(pattern), make: mk, model: model}
}

// Find returns the non-overlapping vehicle mentions in text, longest first
// when two overlap, ordered by position.
func (c *Catalog) Find(text string) []Mention {
	var all []Mention
	for _, m := range c.matchers {
		for _, loc := range m.re.FindAllStringIndex(text, -1) {
			all = append(all, Mention{Text: text[loc[0]:loc[1]], Make: m.make, Model: m.model, start: loc[0], end: loc[1]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		li, lj := all[i].end-all[i].start, all[j].end-all[j].start
		if li != lj {
			return li > lj
		}
		return all[i].start < all[j].start
	})

	var picked []Mention
	for _, m := range all {
		overlaps := false
		for _, p := range picked {
			if m.start < p.end && p.start < m.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			picked = append(picked, m)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].start < picked[j].start })
	return picked
}

// WithInventory returns the catalog extended with the make and model named
// by each inventory entry ("Chirey Tiggo 4 2024" adds chirey/tiggo). The
// receiver is returned as is when the inventory adds nothing.
func (c *Catalog) WithInventory(inventory []Vehicle) *Catalog {
	var extra map[string][]string
	for _, v := range inventory {
		var words []string
		for _, w := range strings.Fields(fold(v.Name)) {
			if !yearRe.MatchString(w) {
				words = append(words, w)
			}
		}
		if len(words) < 2 {
			continue
		}
		mk, model := words[0], words[1]
		if c.knows(mk, model) || containsString(extra[mk], model) {
			continue
		}
		if extra == nil {
			extra = make(map[string][]string)
		}
		extra[mk] = append(extra[mk], model)
	}
	if extra == nil {
		return c
	}
	merged := make(map[string][]string, len(c.models)+len(extra))
	for mk, list := range c.models {
		merged[mk] = list
	}
	for mk, list := range extra {
		merged[mk] = append(append([]string(nil), merged[mk]...), list...)
	}
	return NewCatalog(merged)
}

func (c *Catalog) knows(mk, model string) bool {
	return containsString(c.models[mk], model)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// InInventory reports whether the mention matches some inventory name. Makes
// and models compare as whole words, so "cx-5" does not match "cx-50".
func (c *Catalog) InInventory(m Mention, inventory []Vehicle) bool {
	text := strings.Join(strings.Fields(fold(m.Text)), " ")
	for _, v := range inventory {
		name := strings.Join(strings.Fields(fold(v.Name)), " ")
		if name == "" {
			continue
		}
		if containsWord(name, text) || containsWord(text, name) {
			return true
		}
		if m.Model != "" && containsWord(name, m.Model) {
			return true
		}
		if m.Model == "" {
			if containsWord(name, m.Make) {
				return true
			}
			for _, model := range c.models[m.Make] {
				if containsWord(name, model) {
					return true
				}
			}
		}
	}
	return false
}

// containsWord reports whether needle occurs in s with no letter or digit
// directly on either side.
func containsWord(s, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; from <= len(s)-len(needle); {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return false
		}
		i += from
		end := i + len(needle)
		if !wordRuneBefore(s, i) && !wordRuneAt(s, end) {
			return true
		}
		from = i + 1
	}
	return false
}

func wordRuneBefore(s string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func wordRuneAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
